package util

import (
	"net/url"
	"regexp"
	"strings"
)

var urlRegex = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractURLs 提取去重后的 http(s) 链接，保持出现顺序
func ExtractURLs(rawContent string, limit int) []string {
	matches := urlRegex.FindAllString(rawContent, -1)

	seen := make(map[string]struct{})
	var urls []string

	for _, m := range matches {
		m = strings.TrimRight(m, ".,，。!?！？)")
		u, err := url.Parse(m)
		if err != nil || u.Host == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		urls = append(urls, m)
		if limit > 0 && len(urls) >= limit {
			break
		}
	}
	return urls
}
