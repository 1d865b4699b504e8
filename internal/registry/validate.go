package registry

import (
	"fmt"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate *validator.Validate
	trans    ut.Translator
)

func init() {
	validate = validator.New()
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, trans)
}

// ValidateFile checks a decoded registry table before it is swapped in.
// Errors name the offending model so operators can fix the table without
// reading a stack trace.
func ValidateFile(f *File) error {
	var problems []string
	for _, spec := range f.Models {
		if err := validate.Struct(&spec); err != nil {
			problems = append(problems, describe(spec.LogicalID, err)...)
		}
	}
	for alias, target := range f.Aliases {
		if alias == "" || target == "" {
			problems = append(problems, "aliases: empty alias or target")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid registry table:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

func describe(logicalID string, err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{fmt.Sprintf("%s: %v", logicalID, err)}
	}
	out := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msg := e.Translate(trans)
		if e.Tag() == "oneof" {
			msg = fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(e.Param(), " ", ", "))
		}
		ns := e.Namespace()
		if i := strings.Index(ns, "."); i != -1 {
			ns = ns[i+1:]
		}
		out = append(out, fmt.Sprintf("%s: %s %s", logicalID, ns, msg))
	}
	return out
}
