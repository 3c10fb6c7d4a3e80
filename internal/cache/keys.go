package cache

import (
	"encoding/json"
	"strconv"
)

// Key prefixes for derived catalog views. Writers invalidate by prefix.
const (
	PrefixVideos   = "videos:"
	PrefixChannels = "channels:"
)

// VideosAllKey keys a filtered video listing as videos:all:{filtersJSON}.
func VideosAllKey(filters any) string {
	b, err := json.Marshal(filters)
	if err != nil {
		return PrefixVideos + "all:?"
	}
	return PrefixVideos + "all:" + string(b)
}

// VideoSlugKey keys a single video looked up by slug.
func VideoSlugKey(slug string) string {
	return PrefixVideos + "slug:" + slug
}

// ChannelsAllKey keys a paginated channel listing.
func ChannelsAllKey(limit, offset int) string {
	return PrefixChannels + "all:" + strconv.Itoa(limit) + ":" + strconv.Itoa(offset)
}
