package webparser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"TenderWatch/internal/domain"
)

var rePublishedDate = regexp.MustCompile(`发布时间[:：]\s*(\d{4}-\d{2}-\d{2})`)

// ParseListPage extracts legacy list items (.list li with an anchor and a
// date span). Pages of this shape are sorted newest-first.
func ParseListPage(doc *goquery.Document) []domain.ListItem {
	var items []domain.ListItem
	doc.Find(".list li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a").First()
		span := li.Find("span").First()
		if a.Length() == 0 || span.Length() == 0 {
			return
		}
		title := strings.TrimSpace(a.Text())
		link := strings.TrimSpace(a.AttrOr("href", ""))
		dateRaw := strings.TrimSpace(span.Text())
		if title == "" || link == "" {
			return
		}
		items = append(items, domain.ListItem{Title: title, Link: link, DateRaw: dateRaw})
	})
	return items
}

// ParseNoticeListPage extracts items from newer pages where the date is
// embedded as text ("发布时间：YYYY-MM-DD HH:MM:SS").
func ParseNoticeListPage(doc *goquery.Document) []domain.ListItem {
	var items []domain.ListItem
	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		m := rePublishedDate.FindStringSubmatch(squash(li.Text()))
		if m == nil {
			return
		}
		a := li.Find("a").First()
		if a.Length() == 0 {
			return
		}
		title := strings.TrimSpace(a.Text())
		link := strings.TrimSpace(a.AttrOr("href", ""))
		if title == "" || link == "" {
			return
		}
		items = append(items, domain.ListItem{Title: title, Link: link, DateRaw: m[1]})
	})
	return items
}

// ParseZcptListPage extracts zcpt items (li.wb-data-list). Dates are
// complete ISO dates but page order is not guaranteed.
func ParseZcptListPage(doc *goquery.Document) []domain.ListItem {
	var items []domain.ListItem
	doc.Find("li.wb-data-list").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a[href]").First()
		d := li.Find("span.wb-data-date").First()
		if a.Length() == 0 || d.Length() == 0 {
			return
		}
		title := squash(a.Text())
		link := strings.TrimSpace(a.AttrOr("href", ""))
		dateRaw := strings.TrimSpace(d.Text())
		if title == "" || link == "" || dateRaw == "" {
			return
		}
		items = append(items, domain.ListItem{Title: title, Link: link, DateRaw: dateRaw})
	})
	return items
}

// ParseCategoryLinks collects the site's navigation-tree links, resolved
// against baseURL.
func ParseCategoryLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	var urls []string
	doc.Find("ul.list-se a[href], ul.menu-list a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		urls = append(urls, base.ResolveReference(ref).String())
	})
	return urls
}

// ParseNextPageURL finds the "下一页" link inside the pager, resolved
// against currentURL. Empty means the last page.
func ParseNextPageURL(doc *goquery.Document, currentURL string) string {
	scope := doc.Selection
	if fenye := doc.Find("div.fenye").First(); fenye.Length() > 0 {
		scope = fenye
	}

	var next string
	scope.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.TrimSpace(a.Text()) != "下一页" {
			return true
		}
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return false
		}
		cur, err := url.Parse(currentURL)
		if err != nil {
			return false
		}
		ref, err := url.Parse(href)
		if err != nil {
			return false
		}
		next = cur.ResolveReference(ref).String()
		return false
	})
	return next
}

var (
	reZcptTotal    = regexp.MustCompile(`var\s+total\s*=\s*(\d+)`)
	reZcptPageSize = regexp.MustCompile(`pageSize\s*:\s*(\d+)`)
)

// ZcptNextPageURL derives pagination from the script variables the zcpt
// pages embed (total / pageSize) and the ?pageIndex=N query parameter.
func ZcptNextPageURL(html, currentURL string) string {
	mTotal := reZcptTotal.FindStringSubmatch(html)
	mSize := reZcptPageSize.FindStringSubmatch(html)
	if mTotal == nil || mSize == nil {
		return ""
	}
	total, err := strconv.Atoi(mTotal[1])
	if err != nil || total <= 0 {
		return ""
	}
	pageSize, err := strconv.Atoi(mSize[1])
	if err != nil || pageSize <= 0 {
		return ""
	}

	cur, err := url.Parse(currentURL)
	if err != nil {
		return ""
	}
	query := cur.Query()
	current, err := strconv.Atoi(query.Get("pageIndex"))
	if err != nil || current < 1 {
		current = 1
	}

	maxPages := (total + pageSize - 1) / pageSize
	if current >= maxPages {
		return ""
	}
	query.Set("pageIndex", strconv.Itoa(current+1))
	cur.RawQuery = query.Encode()
	return cur.String()
}

var detailSelectors = []string{
	".article-content",
	"div.article-content",
	".ewb-article",
	"div.ewb-article",
	".Content",
	"div.Content",
	"#content",
	"div#content",
	".content",
	"div.content",
}

// ExtractDetailContent pulls the announcement body text out of a detail
// page, trying known containers first and falling back to the largest div
// carrying the publish marker.
func ExtractDetailContent(doc *goquery.Document) string {
	for _, sel := range detailSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if text := blockText(node); text != "" {
			return text
		}
	}

	best := ""
	doc.Find("div").Each(func(_ int, div *goquery.Selection) {
		text := blockText(div)
		if text == "" || !strings.Contains(text, "发布时间") {
			return
		}
		if len(text) > len(best) {
			best = text
		}
	})
	return best
}

func blockText(sel *goquery.Selection) string {
	var lines []string
	for _, raw := range strings.Split(sel.Text(), "\n") {
		if line := strings.TrimSpace(raw); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
