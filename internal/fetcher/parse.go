package fetcher

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/miradorstack/outage-watch/internal/models"
)

var (
	statusSelectors      = []string{".entry-title", ".status-title", "h1", ".company-status"}
	reportSelectors      = []string{".reports-count", ".report-count", ".count", "[data-reports]"}
	regionSelectors      = []string{".affected-region", ".region", ".location-item", ".city-item"}
	descriptionSelectors = []string{".entry-content p", ".description", ".summary"}

	digitsPattern = regexp.MustCompile(`\d+(?:,\d+)*`)
	reportPattern = regexp.MustCompile(`(?i)(\d+(?:,\d+)*)\s*(?:report|user)`)
)

const minDescriptionLength = 20

type page struct {
	status      models.Status
	reports     int
	regions     []string
	description string
}

func parsePage(r io.Reader) (page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return page{}, err
	}
	return page{
		status:      parseStatus(doc),
		reports:     parseReports(doc),
		regions:     parseRegions(doc),
		description: parseDescription(doc),
	}, nil
}

func parseStatus(doc *goquery.Document) models.Status {
	for _, selector := range statusSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		text := strings.ToLower(sel.Text())
		switch {
		case containsAny(text, "problem", "issue", "outage"):
			return models.StatusDown
		case containsAny(text, "possible", "warning"):
			return models.StatusIssues
		}
	}
	if doc.Find(".chart-container").Length() > 0 {
		return models.StatusIssues
	}
	return models.StatusUp
}

func parseReports(doc *goquery.Document) int {
	for _, selector := range reportSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		text := sel.Text()
		if v, ok := sel.Attr("data-reports"); ok && strings.TrimSpace(text) == "" {
			text = v
		}
		if match := digitsPattern.FindString(text); match != "" {
			if n, ok := atoi(match); ok {
				return n
			}
		}
	}
	if match := reportPattern.FindStringSubmatch(doc.Text()); len(match) == 2 {
		if n, ok := atoi(match[1]); ok {
			return n
		}
	}
	return 0
}

func parseRegions(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var regions []string
	for _, selector := range regionSelectors {
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			name := strings.Join(strings.Fields(sel.Text()), " ")
			if name == "" {
				return true
			}
			if _, dup := seen[name]; dup {
				return true
			}
			seen[name] = struct{}{}
			regions = append(regions, name)
			return len(regions) < models.MaxAffectedRegions
		})
		if len(regions) >= models.MaxAffectedRegions {
			break
		}
	}
	return regions
}

func parseDescription(doc *goquery.Document) string {
	for _, selector := range descriptionSelectors {
		text := strings.Join(strings.Fields(doc.Find(selector).First().Text()), " ")
		if len(text) > minDescriptionLength {
			return text
		}
	}
	if content, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return ""
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
