package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpandShardURL expands a base URL holding a `[a-b]` range into one URL per
// shard. A URL without a range, or with a malformed one, is returned as is.
//
//	https://prs-bp[1-2].press.one/api/chain
//	  -> https://prs-bp1.press.one/api/chain
//	     https://prs-bp2.press.one/api/chain
func ExpandShardURL(url string) []string {
	origin := []string{url}

	start := strings.IndexByte(url, '[')
	if start < 0 {
		return origin
	}
	end := strings.IndexByte(url, ']')
	if end < start {
		return origin
	}

	parts := strings.Split(url[start+1:end], "-")
	if len(parts) != 2 {
		return origin
	}

	lo, err := strconv.Atoi(parts[0])
	if err != nil {
		return origin
	}
	hi, err := strconv.Atoi(parts[1])
	if err != nil || hi < lo {
		return origin
	}

	prefix, suffix := url[:start], url[end+1:]
	urls := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		urls = append(urls, fmt.Sprintf("%s%d%s", prefix, i, suffix))
	}

	return urls
}
