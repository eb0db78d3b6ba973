package seo

import "github.com/freemedia/storefront/internal/browser"

type priorValue struct {
	value   string
	present bool
}

// Scope is metadata applied to the document head by one rendered page. Release puts back
// exactly what the page found when it acquired the scope.
type Scope struct {
	head      browser.Head
	prevTitle string
	prev      map[string]priorValue
	released  bool
}

// Acquire applies meta to head and remembers the entries it overwrote.
func Acquire(head browser.Head, meta Meta) *Scope {
	s := &Scope{head: head, prevTitle: head.Title(), prev: make(map[string]priorValue)}
	if meta.Title != "" {
		head.SetTitle(meta.Title)
	}
	for key, value := range meta.Tags() {
		prior, ok := head.Meta(key)
		s.prev[key] = priorValue{value: prior, present: ok}
		head.SetMeta(key, value)
	}
	return s
}

// Release restores the head. It is safe to call more than once.
func (s *Scope) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	s.head.SetTitle(s.prevTitle)
	for key, prior := range s.prev {
		if prior.present {
			s.head.SetMeta(key, prior.value)
		} else {
			s.head.RemoveMeta(key)
		}
	}
}

// Released reports whether Release has run.
func (s *Scope) Released() bool { return s == nil || s.released }
