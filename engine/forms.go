package engine

import (
	"regexp"
	"strings"

	"github.com/hazyhaar/docconv/model"
)

var (
	// signatureKeywords mark lines that typically carry fill-in fields on
	// administrative documents.
	signatureKeywords = []string{
		"nombre del prestador", "nombre del representante legal",
		"lugar y fecha", "firma del",
		"name of the provider", "place and date", "signature of",
	}

	uppercaseFieldRe = regexp.MustCompile(`[A-Z]{3,}(?: [A-Z]{3,})*`)
	underlineBlockRe = regexp.MustCompile(`(?s)(.*?__(?:_+).*?)`)
	placeholderRe    = regexp.MustCompile(`<[^>]+>`)
	fieldTokenRe     = regexp.MustCompile(`(?:__+|<[^>]+>)`)

	// declarativeClauses are legal formulas that mark a document as a
	// sworn declaration form.
	declarativeClauses = []*regexp.Regexp{
		regexp.MustCompile(`(?i)bajo protesta de decir verdad`),
		regexp.MustCompile(`(?i)under penalty of perjury`),
	}
)

// DetectForms finds form-like structures in page text: signature lines,
// underline runs, <placeholder> tokens, and declarative legal clauses.
// Returned declarations carry no page; the caller stamps provenance.
func DetectForms(text string) []model.FormDeclaration {
	var forms []model.FormDeclaration

	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range signatureKeywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			forms = append(forms, model.FormDeclaration{
				Type:    model.FormTypeDeclarative,
				RawText: strings.TrimSpace(line),
				Fields:  uppercaseFieldRe.FindAllString(line, -1),
			})
			break
		}
	}

	for _, m := range underlineBlockRe.FindAllString(text, -1) {
		block := strings.TrimSpace(m)
		if len(strings.Fields(block)) <= 4 {
			continue
		}
		forms = append(forms, model.FormDeclaration{
			Type:    model.FormTypeDeclarative,
			RawText: block,
			Fields:  fieldTokenRe.FindAllString(block, -1),
		})
	}

	for _, m := range placeholderRe.FindAllString(text, -1) {
		forms = append(forms, model.FormDeclaration{
			Type:    model.FormTypeDeclarative,
			RawText: m,
			Fields:  []string{m},
		})
	}

	for _, clause := range declarativeClauses {
		if loc := clause.FindString(text); loc != "" {
			forms = append(forms, model.FormDeclaration{
				Type:    model.FormTypeDeclarative,
				RawText: strings.TrimSpace(text),
				Fields:  []string{strings.ToLower(loc)},
			})
		}
	}

	return forms
}
