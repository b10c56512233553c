package parser

import (
	"crypto/md5"
	"io"
	"os"
	"regexp"
)

// hashFile returns the raw MD5 digest bytes (as a string, compared only for
// equality) of the file at path, or ("", false)
// if it can't be read (spec.md §5 "replication"). Grounded on
// original_source/old/models/morphologicalparser.py's get_hash.
func hashFile(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", false
	}
	return string(h.Sum(nil)), true
}

// Replicator copies the files and attribute values a morphophonology
// transducer depends on into its own workspace, so that later edits to the
// referenced phonology/morphology/language model can't silently change
// parsing behaviour (spec.md §5). Changed tracks whether any copy or
// attribute assignment this generate cycle actually altered something;
// once true, further (redundant) hash comparisons are skipped, mirroring
// the teacher's copy_file/compile short-circuit.
type Replicator struct {
	Changed bool
}

// CopyFile copies src to dst, setting r.Changed if dst's content differs
// from what it held before the copy (or didn't exist before). If r.Changed
// is already true, the hash comparison is skipped and the file is copied
// unconditionally, since no further evidence of change is needed.
func (r *Replicator) CopyFile(src, dst string) error {
	var preHash string
	var dstExisted bool
	if !r.Changed {
		if h, ok := hashFile(dst); ok {
			preHash, dstExisted = h, true
		}
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}

	if !r.Changed {
		if dstExisted {
			postHash, _ := hashFile(dst)
			r.Changed = preHash != postHash
		} else {
			if _, err := os.Stat(dst); err == nil {
				r.Changed = true
			}
		}
	}
	return nil
}

// CopyFileIfExists copies src to dst only if src exists; a missing src is
// not an error (several replicated files, e.g. a morphology's dictionary,
// are optional).
func (r *Replicator) CopyFileIfExists(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return nil
	}
	return r.CopyFile(src, dst)
}

// SetAttr assigns *field = value, marking r.Changed if the previous value
// differed. T must be comparable. Mirrors the teacher's set_attr helper
// used by replicate_attributes to accumulate an OR'd changed flag across
// every copied scalar.
func SetAttr[T comparable](r *Replicator, field *T, value T) {
	if *field != value {
		r.Changed = true
	}
	*field = value
}

// SetAttrSlice assigns *field = value for a []string, marking r.Changed if
// the two slices differ element-for-element. Separate from SetAttr because
// slices aren't comparable.
func SetAttrSlice(r *Replicator, field *[]string, value []string) {
	if !stringSlicesEqual(*field, value) {
		r.Changed = true
	}
	*field = append([]string{}, value...)
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// phonologyDefinitionPattern matches a foma "define phonology ...;"
// statement, including internal newlines, stopping at a ";" not preceded
// by foma's own escape character ("%") or by a double quote. Grounded on generate_morphophonology
// in original_source/old/models/morphologicalparser.py.
var phonologyDefinitionPattern = regexp.MustCompile(`(?s)define( )+phonology( )+.+?[^%"];`)
var definePhonologyPattern = regexp.MustCompile(`define( )+phonology`)

// GenerateMorphophonologyBody returns the portion of a morphophonology
// script that follows the "morphology" FST's definition: phonologyScript
// with its "define phonology ..." replaced by "define morphophonology
// morphology .o. ...". Returns ("", false) if phonologyScript contains no
// phonology definition at all (the identity-transducer fallback case).
func GenerateMorphophonologyBody(phonologyScript string) (string, bool) {
	if !phonologyDefinitionPattern.MatchString(phonologyScript) {
		return "", false
	}
	return definePhonologyPattern.ReplaceAllString(phonologyScript, "define morphophonology morphology .o. "), true
}
