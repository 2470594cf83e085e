package store

import (
	"strings"
	"unicode/utf8"

	"github.com/roach88/varpol/internal/ir"
)

// Filter selects variables for FindVariables. The zero Filter matches
// every variable; set fields are combined with AND.
type Filter struct {
	Namespace  *ir.Namespace
	NamePrefix string
	// MustHave matches variables carrying every bit of the mask.
	MustHave ir.Attributes
	// Signed matches variables with (true) or without (false) a
	// recorded signer.
	Signed *bool
}

// where compiles f into a WHERE clause and its parameters. Values are
// always bound, never interpolated.
func (f Filter) where() (string, []any) {
	var (
		preds  []string
		params []any
	)
	if f.Namespace != nil {
		preds = append(preds, "namespace = ?")
		params = append(params, f.Namespace[:])
	}
	if f.NamePrefix != "" {
		// substr avoids LIKE's wildcard and case-folding rules.
		preds = append(preds, "substr(name, 1, ?) = ?")
		params = append(params, utf8.RuneCountInString(f.NamePrefix), f.NamePrefix)
	}
	if f.MustHave != 0 {
		preds = append(preds, "(attributes & ?) = ?")
		params = append(params, int64(f.MustHave), int64(f.MustHave))
	}
	if f.Signed != nil {
		if *f.Signed {
			preds = append(preds, "signer != ''")
		} else {
			preds = append(preds, "signer = ''")
		}
	}
	if len(preds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(preds, " AND "), params
}
