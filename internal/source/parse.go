package source

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jurisia/intake/internal/pipeline"
)

// DiarioPage is one parsed diário page.
type DiarioPage struct {
	Records []pipeline.RawRecord
	// NextPath is the relative href of the next page, empty on the last.
	NextPath string
	// Edition identifies the diário edition, used as the run cursor.
	Edition string
}

// ParseDiarioPage extracts publication records from a diário oficial
// listing page. The markup is the common layout shared by the supported
// tribunals: one div.publicacao per notice carrying a data-ref attribute,
// the process number in .processo, the full text in .texto and an
// optional scanned attachment link in a.anexo.
func ParseDiarioPage(body []byte) (DiarioPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return DiarioPage{}, fmt.Errorf("parse diario page: %w", err)
	}

	var page DiarioPage
	page.Edition = strings.TrimSpace(doc.Find(".edicao").First().Text())

	doc.Find("div.publicacao").Each(func(_ int, sel *goquery.Selection) {
		ref, _ := sel.Attr("data-ref")
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		rec := pipeline.RawRecord{
			ExternalRef: ref,
			ProcessRef:  strings.TrimSpace(sel.Find(".processo").First().Text()),
			RawText:     strings.TrimSpace(sel.Find(".texto").First().Text()),
		}
		if raw, ok := sel.Attr("data-publicado-em"); ok {
			if ts, perr := time.Parse("02/01/2006", strings.TrimSpace(raw)); perr == nil {
				rec.PublishedAt = ts
			}
		}
		if anexo := sel.Find("a.anexo").First(); anexo.Length() > 0 {
			href, _ := anexo.Attr("href")
			if href != "" {
				rec.Attachment = &pipeline.Attachment{
					Ref:         href,
					ContentType: contentTypeForAttachment(href),
				}
			}
		}
		page.Records = append(page.Records, rec)
	})

	if next, ok := doc.Find("a.proxima").First().Attr("href"); ok {
		page.NextPath = strings.TrimSpace(next)
	}
	return page, nil
}

func contentTypeForAttachment(href string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(href), ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(strings.ToLower(href), ".tiff"), strings.HasSuffix(strings.ToLower(href), ".tif"):
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
