// Package localcache is the per-browser persistence of last known votes and drafts. It
// survives reconnects before the document store round trip completes.
package localcache

// Cache is a string key-value store owned by one browser.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// VoteKey holds the finalized value of a question.
func VoteKey(questionID string) string { return "vote_" + questionID }

// DraftKey holds the in-progress value of a question.
func DraftKey(questionID string) string { return "draft_" + questionID }

// Scoped prefixes every key so several browsers can share one backing cache.
func Scoped(c Cache, scope string) Cache {
	return scoped{inner: c, prefix: scope + ":"}
}

type scoped struct {
	inner  Cache
	prefix string
}

func (s scoped) Get(key string) (string, bool) { return s.inner.Get(s.prefix + key) }

func (s scoped) Set(key, value string) { s.inner.Set(s.prefix+key, value) }

func (s scoped) Remove(key string) { s.inner.Remove(s.prefix + key) }
