package linkpreview

import (
	"Parley/internal/model"
	"Parley/internal/pkg/util"
	"context"
	"fmt"
	log "log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/go-shiori/go-readability"
)

const ua = "Mozilla/5.0 (compatible; ParleyLinkPreview/1.0)"

// Resolver 抓取链接的 Open Graph 信息生成预览
type Resolver struct {
	client   *resty.Client
	maxLinks int
}

func NewResolver(timeout time.Duration, proxy string, maxLinks int) *Resolver {
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "text/html,application/xhtml+xml")
	if proxy != "" {
		client.SetProxy(proxy)
	}
	return &Resolver{client: client, maxLinks: maxLinks}
}

// Resolve 尽力解析内容中的链接，失败的链接直接跳过
func (r *Resolver) Resolve(ctx context.Context, content string) []model.LinkPreview {
	var out []model.LinkPreview
	for _, link := range util.ExtractURLs(content, r.maxLinks) {
		p, err := r.Preview(ctx, link)
		if err != nil {
			log.WarnContext(ctx, "link preview failed", "url", link, "err", err)
			continue
		}
		out = append(out, *p)
	}
	return out
}

func (r *Resolver) Preview(ctx context.Context, link string) (*model.LinkPreview, error) {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.R().SetContext(ctx).Get(link)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("not an html page: %s", ct)
	}

	html := resp.String()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	meta := func(keys ...string) string {
		for _, k := range keys {
			sel := doc.Find(fmt.Sprintf(`meta[property="%s"], meta[name="%s"]`, k, k)).First()
			if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}

	p := &model.LinkPreview{
		URL:         link,
		Title:       meta("og:title", "twitter:title"),
		Description: meta("og:description", "twitter:description", "description"),
		ImageURL:    meta("og:image", "twitter:image"),
		SiteName:    meta("og:site_name"),
	}
	if p.Title == "" {
		p.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	// 没有 meta 描述时用正文摘要补齐
	if p.Description == "" || p.Title == "" {
		if article, err := readability.FromReader(strings.NewReader(html), parsedURL); err == nil {
			if p.Title == "" {
				p.Title = article.Title
			}
			if p.Description == "" {
				p.Description = article.Excerpt
			}
			if p.ImageURL == "" {
				p.ImageURL = article.Image
			}
		}
	}

	if p.ImageURL != "" {
		if ref, err := url.Parse(p.ImageURL); err == nil {
			p.ImageURL = parsedURL.ResolveReference(ref).String()
		}
	}
	if p.SiteName == "" {
		p.SiteName = parsedURL.Hostname()
	}
	if p.Title == "" {
		p.Title = link
	}
	return p, nil
}
