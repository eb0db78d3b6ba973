// Package browser models the parts of the browser the navigation engine drives: the history
// stack, the scrolling viewport, the document head and pop-out windows.
package browser

// History is the session history stack.
type History interface {
	// Length is the number of entries in the stack, like window.history.length.
	Length() int
	Location() string
	Push(url string)
	Replace(url string)
}

// Viewport is the scrolling document viewport.
type Viewport interface {
	ScrollY() int
	ScrollTo(y int)
}

// Head is the document head: title plus keyed metadata entries such as "link:canonical",
// "name:description" or "property:og:title".
type Head interface {
	Title() string
	SetTitle(title string)
	Meta(key string) (string, bool)
	SetMeta(key, value string)
	RemoveMeta(key string)
}

// Window is an opened pop-out window.
type Window interface {
	URL() string
	Closed() bool
	Close()
}

// Opener opens pop-out windows.
type Opener interface {
	Open(url string) (Window, error)
}
