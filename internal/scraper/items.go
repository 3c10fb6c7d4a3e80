package scraper

import (
	"encoding/json"
	"strings"
)

const maxWalkDepth = 64

// shape is one recognised listing item layout.
type shape interface {
	item() (Item, bool)
}

// itemShapes maps the object key that introduces a layout to its decoder.
// Anything not listed is walked through but never turned into an item.
var itemShapes = map[string]func() shape{
	"videoRenderer":         func() shape { return &videoRenderer{} },
	"gridVideoRenderer":     func() shape { return &videoRenderer{} },
	"reelItemRenderer":      func() shape { return &reelItemRenderer{} },
	"shortsLockupViewModel": func() shape { return &shortsLockup{} },
}

type text struct {
	SimpleText string `json:"simpleText"`
	Content    string `json:"content"`
	Runs       []struct {
		Text string `json:"text"`
	} `json:"runs"`
}

func (t text) String() string {
	if t.SimpleText != "" {
		return t.SimpleText
	}
	if t.Content != "" {
		return t.Content
	}
	var b strings.Builder
	for _, r := range t.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

type thumbnails struct {
	Thumbnails []struct {
		URL   string `json:"url"`
		Width int    `json:"width"`
	} `json:"thumbnails"`
}

// best returns the widest thumbnail, or the last one when widths are absent.
func (t thumbnails) best() string {
	best, width := "", -1
	for _, th := range t.Thumbnails {
		if th.Width >= width {
			best, width = th.URL, th.Width
		}
	}
	return best
}

type endpoint struct {
	CommandMetadata struct {
		WebCommandMetadata struct {
			URL string `json:"url"`
		} `json:"webCommandMetadata"`
	} `json:"commandMetadata"`
	ReelWatchEndpoint *struct {
		VideoID string `json:"videoId"`
	} `json:"reelWatchEndpoint"`
}

func (e endpoint) url() string {
	return e.CommandMetadata.WebCommandMetadata.URL
}

type overlay struct {
	TimeStatus *struct {
		Style string `json:"style"`
		Text  text   `json:"text"`
	} `json:"thumbnailOverlayTimeStatusRenderer"`
}

type videoRenderer struct {
	VideoID            string     `json:"videoId"`
	Title              text       `json:"title"`
	DescriptionSnippet text       `json:"descriptionSnippet"`
	Thumbnail          thumbnails `json:"thumbnail"`
	LengthText         text       `json:"lengthText"`
	PublishedTimeText  text       `json:"publishedTimeText"`
	ViewCountText      text       `json:"viewCountText"`
	NavigationEndpoint endpoint   `json:"navigationEndpoint"`
	ThumbnailOverlays  []overlay  `json:"thumbnailOverlays"`
}

func (v *videoRenderer) item() (Item, bool) {
	if v.VideoID == "" {
		return Item{}, false
	}

	it := Item{
		ExternalID:    v.VideoID,
		Title:         v.Title.String(),
		Description:   v.DescriptionSnippet.String(),
		ThumbnailURL:  v.Thumbnail.best(),
		Duration:      v.LengthText.String(),
		PublishedText: v.PublishedTimeText.String(),
		ViewCountText: v.ViewCountText.String(),
	}

	shortsOverlay := false
	for _, o := range v.ThumbnailOverlays {
		if o.TimeStatus == nil {
			continue
		}
		if it.Duration == "" {
			it.Duration = o.TimeStatus.Text.String()
		}
		if strings.EqualFold(o.TimeStatus.Style, "SHORTS") {
			shortsOverlay = true
		}
	}

	switch {
	case strings.Contains(v.NavigationEndpoint.url(), "/shorts/"):
		it.IsShort = true
	case shortsOverlay:
		it.IsShort = true
	}
	return it, true
}

type reelItemRenderer struct {
	VideoID            string     `json:"videoId"`
	Headline           text       `json:"headline"`
	Thumbnail          thumbnails `json:"thumbnail"`
	ViewCountText      text       `json:"viewCountText"`
	NavigationEndpoint endpoint   `json:"navigationEndpoint"`
}

func (r *reelItemRenderer) item() (Item, bool) {
	if r.VideoID == "" {
		return Item{}, false
	}
	return Item{
		ExternalID:    r.VideoID,
		Title:         r.Headline.String(),
		ThumbnailURL:  r.Thumbnail.best(),
		ViewCountText: r.ViewCountText.String(),
		IsShort:       true,
	}, true
}

type shortsLockup struct {
	EntityID string `json:"entityId"`
	OnTap    struct {
		InnertubeCommand endpoint `json:"innertubeCommand"`
	} `json:"onTap"`
	OverlayMetadata struct {
		PrimaryText   text `json:"primaryText"`
		SecondaryText text `json:"secondaryText"`
	} `json:"overlayMetadata"`
	Thumbnail struct {
		Sources []struct {
			URL string `json:"url"`
		} `json:"sources"`
	} `json:"thumbnail"`
}

func (s *shortsLockup) item() (Item, bool) {
	id := ""
	if rw := s.OnTap.InnertubeCommand.ReelWatchEndpoint; rw != nil {
		id = rw.VideoID
	}
	if id == "" {
		id = strings.TrimPrefix(s.EntityID, "shorts-shelf-item-")
	}
	if id == "" {
		return Item{}, false
	}

	it := Item{
		ExternalID:    id,
		Title:         s.OverlayMetadata.PrimaryText.String(),
		ViewCountText: s.OverlayMetadata.SecondaryText.String(),
		IsShort:       true,
	}
	if n := len(s.Thumbnail.Sources); n > 0 {
		it.ThumbnailURL = s.Thumbnail.Sources[0].URL
	}
	return it, true
}

// tiktokItem is an entry of a TikTok "itemList" array.
type tiktokItem struct {
	ID    string `json:"id"`
	Desc  string `json:"desc"`
	Video struct {
		Cover    string      `json:"cover"`
		Duration json.Number `json:"duration"`
	} `json:"video"`
	Stats struct {
		PlayCount json.Number `json:"playCount"`
	} `json:"stats"`
}

func (t *tiktokItem) item() (Item, bool) {
	if t.ID == "" {
		return Item{}, false
	}
	it := Item{
		ExternalID:   t.ID,
		Title:        firstLine(t.Desc),
		Description:  t.Desc,
		ThumbnailURL: t.Video.Cover,
		IsShort:      true,
	}
	if d := t.Video.Duration.String(); d != "" && d != "0" {
		it.Duration = d + "s"
	}
	if v := t.Stats.PlayCount.String(); v != "" {
		it.ViewCountText = v + " views"
	}
	return it, true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// collectItems walks the decoded blob in document order, object keys as they
// appear in the page, and returns every recognised item. The first occurrence
// wins on duplicate ids.
func collectItems(root any) []Item {
	var out []Item
	seen := map[string]struct{}{}

	add := func(s shape, node any) {
		if !decodeInto(node, s) {
			return
		}
		it, ok := s.item()
		if !ok {
			return
		}
		if _, dup := seen[it.ExternalID]; dup {
			return
		}
		seen[it.ExternalID] = struct{}{}
		out = append(out, it)
	}

	var visit func(node any, depth int)
	visit = func(node any, depth int) {
		if depth > maxWalkDepth {
			return
		}
		switch n := node.(type) {
		case []any:
			for _, child := range n {
				visit(child, depth+1)
			}
		case *object:
			for _, key := range n.keys {
				child := n.values[key]
				if newShape, ok := itemShapes[key]; ok {
					add(newShape(), child)
					continue
				}
				if key == "itemList" {
					if list, ok := child.([]any); ok {
						for _, entry := range list {
							add(&tiktokItem{}, entry)
						}
						continue
					}
				}
				visit(child, depth+1)
			}
		}
	}

	visit(root, 0)
	return out
}

// channelIdentity reads the channel metadata block, or a TikTok user block.
func channelIdentity(root any) ChannelIdentity {
	var page struct {
		Metadata struct {
			Channel *struct {
				Title      string     `json:"title"`
				ExternalID string     `json:"externalId"`
				ChannelURL string     `json:"channelUrl"`
				Avatar     thumbnails `json:"avatar"`
			} `json:"channelMetadataRenderer"`
		} `json:"metadata"`
		Microformat struct {
			Data *struct {
				Title        string     `json:"title"`
				URLCanonical string     `json:"urlCanonical"`
				Thumbnail    thumbnails `json:"thumbnail"`
			} `json:"microformatDataRenderer"`
		} `json:"microformat"`
	}

	top := map[string]any{}
	if m, ok := root.(*object); ok {
		top["metadata"] = m.values["metadata"]
		top["microformat"] = m.values["microformat"]
	}

	if decodeInto(top, &page) {
		if c := page.Metadata.Channel; c != nil && (c.ExternalID != "" || c.Title != "") {
			return ChannelIdentity{
				ExternalID: c.ExternalID,
				Name:       c.Title,
				URL:        c.ChannelURL,
				AvatarURL:  c.Avatar.best(),
			}
		}
		if m := page.Microformat.Data; m != nil && m.Title != "" {
			return ChannelIdentity{
				Name:      m.Title,
				URL:       m.URLCanonical,
				AvatarURL: m.Thumbnail.best(),
			}
		}
	}

	if user := findKey(root, "userInfo", 0); user != nil {
		var info struct {
			User struct {
				ID           string `json:"id"`
				UniqueID     string `json:"uniqueId"`
				Nickname     string `json:"nickname"`
				AvatarLarger string `json:"avatarLarger"`
			} `json:"user"`
		}
		if decodeInto(user, &info) && info.User.ID != "" {
			id := ChannelIdentity{
				ExternalID: info.User.ID,
				Name:       info.User.Nickname,
				AvatarURL:  info.User.AvatarLarger,
			}
			if info.User.UniqueID != "" {
				id.URL = "https://www.tiktok.com/@" + info.User.UniqueID
				if id.Name == "" {
					id.Name = info.User.UniqueID
				}
			}
			return id
		}
	}

	return ChannelIdentity{}
}

// findKey returns the first value stored under key anywhere in node.
func findKey(node any, key string, depth int) any {
	if depth > maxWalkDepth {
		return nil
	}
	switch n := node.(type) {
	case *object:
		if v, ok := n.values[key]; ok {
			return v
		}
		for _, k := range n.keys {
			if v := findKey(n.values[k], key, depth+1); v != nil {
				return v
			}
		}
	case []any:
		for _, child := range n {
			if v := findKey(child, key, depth+1); v != nil {
				return v
			}
		}
	}
	return nil
}

// decodeInto re-encodes a generic node into a typed struct and reports
// whether the node matched the struct's field types.
func decodeInto(node any, dst any) bool {
	raw, err := json.Marshal(node)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}
