package websearch

import (
	"html"
	"regexp"
	"strings"
)

var (
	reScript    = regexp.MustCompile(`(?is)<script[\s\S]*?</script>`)
	reStyle     = regexp.MustCompile(`(?is)<style[\s\S]*?</style>`)
	reComment   = regexp.MustCompile(`<!--[\s\S]*?-->`)
	reNav       = regexp.MustCompile(`(?is)<nav[\s\S]*?</nav>`)
	reFooter    = regexp.MustCompile(`(?is)<footer[\s\S]*?</footer>`)
	reTitle     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	reHeading   = regexp.MustCompile(`(?i)<h[1-6][^>]*>([\s\S]*?)</h[1-6]>`)
	reParagraph = regexp.MustCompile(`(?i)<p[^>]*>([\s\S]*?)</p>`)
	reBreak     = regexp.MustCompile(`(?i)<br\s*/?>`)
	reListItem  = regexp.MustCompile(`(?i)<li[^>]*>([\s\S]*?)</li>`)
	reTag       = regexp.MustCompile(`<[^>]+>`)
	reMultiSP   = regexp.MustCompile(`[ \t]{2,}`)
)

func stripTags(s string) string {
	return html.UnescapeString(reTag.ReplaceAllString(s, ""))
}

// pageTitle returns the document title, if any.
func pageTitle(doc string) string {
	if m := reTitle.FindStringSubmatch(doc); m != nil {
		return strings.TrimSpace(stripTags(m[1]))
	}
	return ""
}

// htmlToText reduces an HTML document to readable lines.
func htmlToText(doc string) string {
	s := reScript.ReplaceAllString(doc, "")
	s = reStyle.ReplaceAllString(s, "")
	s = reComment.ReplaceAllString(s, "")
	s = reNav.ReplaceAllString(s, "")
	s = reFooter.ReplaceAllString(s, "")
	s = reTitle.ReplaceAllString(s, "")

	s = reHeading.ReplaceAllString(s, "\n$1\n")
	s = reParagraph.ReplaceAllString(s, "\n$1\n")
	s = reBreak.ReplaceAllString(s, "\n")
	s = reListItem.ReplaceAllString(s, "\n- $1")
	s = stripTags(s)
	s = reMultiSP.ReplaceAllString(s, " ")

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
