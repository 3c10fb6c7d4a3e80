package scraper

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Assignment markers tried in order when looking for the page's initial data.
var blobMarkers = [][]byte{
	[]byte("var ytInitialData ="),
	[]byte(`window["ytInitialData"] =`),
}

// Script element ids whose text content is a JSON document.
var blobScriptIDs = []string{
	"__UNIVERSAL_DATA_FOR_REHYDRATION__",
	"SIGI_STATE",
}

var errNoBlob = errors.New("no embedded data blob")

// document holds what the tokenizer pass collected from the raw HTML.
type document struct {
	meta    map[string]string
	scripts map[string]string
}

func (d document) identity() ChannelIdentity {
	id := ChannelIdentity{
		Name:      d.meta["og:title"],
		URL:       d.meta["og:url"],
		AvatarURL: d.meta["og:image"],
	}
	for _, key := range []string{"channelId", "identifier"} {
		if v := d.meta[key]; v != "" {
			id.ExternalID = v
			break
		}
	}
	if id.URL == "" {
		id.URL = d.meta["canonical"]
	}
	return id
}

// parseDocument walks the HTML once collecting meta tags, the canonical link
// and the bodies of known JSON script elements.
func parseDocument(body []byte) document {
	doc := document{meta: map[string]string{}, scripts: map[string]string{}}
	z := html.NewTokenizer(bytes.NewReader(body))

	var scriptID string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return doc

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Meta:
				var key, content string
				for _, a := range tok.Attr {
					switch a.Key {
					case "property", "itemprop", "name":
						if key == "" {
							key = a.Val
						}
					case "content":
						content = a.Val
					}
				}
				if key != "" && content != "" {
					if _, seen := doc.meta[key]; !seen {
						doc.meta[key] = content
					}
				}
			case atom.Link:
				var rel, href string
				for _, a := range tok.Attr {
					switch a.Key {
					case "rel":
						rel = a.Val
					case "href":
						href = a.Val
					}
				}
				if rel == "canonical" && href != "" {
					doc.meta["canonical"] = href
				}
			case atom.Script:
				scriptID = ""
				for _, a := range tok.Attr {
					if a.Key == "id" {
						scriptID = a.Val
					}
				}
			}

		case html.TextToken:
			if scriptID != "" {
				doc.scripts[scriptID] += string(z.Text())
			}

		case html.EndTagToken:
			if tok := z.Token(); tok.DataAtom == atom.Script {
				scriptID = ""
			}
		}
	}
}

// extractBlob finds and decodes the embedded initial-data object.
func extractBlob(body []byte, scripts map[string]string) (any, error) {
	var errs []error

	for _, marker := range blobMarkers {
		idx := bytes.Index(body, marker)
		if idx < 0 {
			continue
		}
		raw, err := scanObject(body[idx+len(marker):])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", marker, err))
			continue
		}
		v, err := decode(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", marker, err))
			continue
		}
		return v, nil
	}

	for _, id := range blobScriptIDs {
		text := strings.TrimSpace(scripts[id])
		if text == "" {
			continue
		}
		v, err := decode([]byte(text))
		if err != nil {
			errs = append(errs, fmt.Errorf("script#%s: %w", id, err))
			continue
		}
		return v, nil
	}

	if len(errs) == 0 {
		return nil, errNoBlob
	}
	return nil, errors.Join(append([]error{errNoBlob}, errs...)...)
}

// scanObject returns the first balanced {...} in b, honouring JSON string
// literals and escapes so braces inside titles do not end the object early.
func scanObject(b []byte) ([]byte, error) {
	start := bytes.IndexByte(b, '{')
	if start < 0 {
		return nil, errors.New("no object start")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(b); i++ {
		c := b[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[start : i+1], nil
			}
		}
	}
	return nil, errors.New("unbalanced object")
}
