// Package prompt builds the instruction text sent to AI backends for
// each analysis kind. All providers share these templates so that
// switching backends does not change analysis semantics.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mkale/inboxtriage/pkg/models"
)

// Build returns the full prompt for one analysis kind over an email body.
func Build(kind models.AnalysisKind, subject, body string) string {
	var b strings.Builder

	switch kind {
	case models.KindBriefSummary:
		b.WriteString("Summarize the following email in one or two sentences. Respond with the summary only.\n\n")
	case models.KindDetailedSummary:
		b.WriteString("Write a detailed summary of the following email, covering every decision, request and deadline it contains. Respond with the summary only.\n\n")
	case models.KindActionItems:
		b.WriteString("List the action items in the following email as short bullet points, one per line. If there are none, respond with \"none\".\n\n")
	case models.KindSentiment:
		b.WriteString("Rate the sentiment of the following email as a number between -1.0 (very negative) and 1.0 (very positive). Respond with the number only.\n\n")
	case models.KindClassify:
		fmt.Fprintf(&b, "Classify the following email as exactly one of: %s. Respond with the label only.\n\n",
			strings.Join(models.Classifications, ", "))
	case models.KindExtractEntities:
		b.WriteString("Extract entities from the following email. Respond with a JSON object with the keys ")
		b.WriteString(`"people", "companies", "dates", "locations", "amounts", "phone_numbers", "email_addresses", `)
		b.WriteString("each a list of strings. Respond with the JSON only.\n\n")
	}

	if subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n\n", subject)
	}
	b.WriteString(body)
	return b.String()
}
