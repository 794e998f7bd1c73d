package scholar

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/citehub/citehub/internal/domain"
)

var (
	userRe     = regexp.MustCompile(`user=([^&]+)`)
	citationRe = regexp.MustCompile(`citation_for_view=([\w-]*:[\w-]*)`)
	yearRe     = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// parseAuthor extracts the profile header: identity, citation indices, the
// per-year citation histogram, and the listed coauthors.
func parseAuthor(doc *goquery.Document, userID, host string) domain.Author {
	author := domain.Author{
		ID:          userID,
		Name:        strings.TrimSpace(doc.Find("div#gsc_prf_in").Text()),
		Affiliation: strings.TrimSpace(doc.Find("div.gsc_prf_il").First().Text()),
		PictureURL:  host + "/citations?view_op=medium_photo&user=" + userID,
	}

	// The verification line reads "Verified email at <domain> - Homepage".
	if email := doc.Find("div#gsc_prf_ivh").Text(); email != "" {
		email = strings.Replace(email, "Verified email at ", "", 1)
		if idx := strings.Index(email, " - "); idx >= 0 {
			email = email[:idx]
		}
		author.Email = strings.TrimSpace(email)
	}

	doc.Find("a.gsc_prf_inta").Each(func(_ int, sel *goquery.Selection) {
		author.Interests = append(author.Interests, strings.TrimSpace(sel.Text()))
	})

	// The citation table lists total and five-year variants of each index in
	// a fixed cell order. Fresh profiles have no table at all.
	indices := doc.Find("td.gsc_rsb_std")
	if indices.Length() >= 6 {
		author.CitedBy = intText(indices.Eq(0))
		author.CitedBy5y = intText(indices.Eq(1))
		author.HIndex = intText(indices.Eq(2))
		author.HIndex5y = intText(indices.Eq(3))
		author.I10Index = intText(indices.Eq(4))
		author.I10Index5y = intText(indices.Eq(5))
	}

	years := doc.Find("span.gsc_g_t")
	counts := doc.Find("span.gsc_g_al")
	if years.Length() > 0 && years.Length() == counts.Length() {
		author.CitesPerYear = make(map[int]int, years.Length())
		years.Each(func(i int, sel *goquery.Selection) {
			year, err := strconv.Atoi(strings.TrimSpace(sel.Text()))
			if err != nil {
				return
			}
			author.CitesPerYear[year] = intText(counts.Eq(i))
		})
	}

	doc.Find("span.gsc_rsb_a_desc").Each(func(_ int, sel *goquery.Selection) {
		link := sel.Find("a").First()
		href, _ := link.Attr("href")
		match := userRe.FindStringSubmatch(href)
		if match == nil {
			return
		}
		author.Coauthors = append(author.Coauthors, domain.CoauthorRef{
			ID:          match[1],
			Name:        strings.TrimSpace(link.Text()),
			Affiliation: strings.TrimSpace(sel.Find(".gsc_rsb_a_ext").First().Text()),
		})
	})

	return author
}

// parsePublications extracts one page of the publication table and reports
// whether more pages follow.
func parsePublications(doc *goquery.Document) ([]domain.Publication, bool) {
	var pubs []domain.Publication
	doc.Find("tr.gsc_a_tr").Each(func(_ int, row *goquery.Selection) {
		title := row.Find("a.gsc_a_at").First()
		href, _ := title.Attr("data-href")
		match := citationRe.FindStringSubmatch(href)
		if match == nil {
			// The empty-profile placeholder row has no citation link.
			return
		}

		pub := domain.Publication{
			ID:   match[1],
			Name: strings.TrimSpace(title.Text()),
		}

		gray := row.Find("td.gsc_a_t div.gs_gray")
		pub.Authors = splitNames(gray.Eq(0).Text())
		pub.Publisher = strings.TrimSpace(gray.Eq(1).Text())
		pub.Cites = intText(row.Find(".gsc_a_ac").First())
		pub.Year = intText(row.Find(".gsc_a_h").First())

		pubs = append(pubs, pub)
	})

	more := doc.Find("button#gsc_bpf_more")
	_, disabled := more.Attr("disabled")
	return pubs, more.Length() > 0 && !disabled
}

// parseCitedByLink finds the link from a citation detail page to the Scholar
// search listing the citing publications. Publications nobody cites have no
// such link.
func parseCitedByLink(doc *goquery.Document, host string) (string, bool) {
	var found string
	doc.Find("a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok || !strings.Contains(href, "cites=") {
			return true
		}
		found = href
		return false
	})
	if found == "" {
		return "", false
	}
	if strings.HasPrefix(found, "/") {
		found = host + found
	}
	return found, true
}

// parseCitingResults extracts the publications from one Scholar search
// results page. Result ids are cluster ids, prefixed to keep them from
// colliding with profile citation ids.
func parseCitingResults(doc *goquery.Document) []domain.Publication {
	var pubs []domain.Publication
	doc.Find("div.gs_r[data-cid]").Each(func(_ int, row *goquery.Selection) {
		cid, _ := row.Attr("data-cid")
		if cid == "" {
			return
		}

		pub := domain.Publication{
			ID:   "cluster:" + cid,
			Name: strings.TrimSpace(row.Find("h3.gs_rt a").First().Text()),
		}
		if pub.Name == "" {
			// Citation-only entries have no link; the heading still holds
			// the title behind a [CITATION][C] marker.
			heading := strings.TrimSpace(row.Find("h3.gs_rt").Text())
			pub.Name = strings.TrimSpace(strings.TrimPrefix(heading, "[CITATION][C]"))
		}

		authors, publisher, year := parseByline(row.Find("div.gs_a").First().Text())
		pub.Authors = authors
		pub.Publisher = publisher
		pub.Year = year

		pubs = append(pubs, pub)
	})
	return pubs
}

// parseByline splits the "authors - venue, year - provider" line under a
// search result.
func parseByline(line string) ([]string, string, int) {
	parts := strings.Split(line, " - ")

	var authors []string
	if len(parts) > 0 {
		authors = splitNames(parts[0])
	}

	var publisher string
	if len(parts) > 1 {
		publisher = strings.TrimSpace(parts[1])
		// The venue segment usually ends with ", <year>".
		if idx := strings.LastIndex(publisher, ","); idx >= 0 && yearRe.MatchString(publisher[idx:]) {
			publisher = strings.TrimSpace(publisher[:idx])
		}
	}

	year := 0
	if match := yearRe.FindString(line); match != "" {
		year, _ = strconv.Atoi(match)
	}
	return authors, publisher, year
}

func splitNames(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// intText parses the integer content of a cell, tolerating empty cells and
// stray markup.
func intText(sel *goquery.Selection) int {
	text := strings.TrimSpace(sel.Text())
	if text == "" {
		return 0
	}
	value, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return value
}
