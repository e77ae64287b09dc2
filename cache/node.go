package cache

import "image"

// node is an entry in the memory tier: a decoded bitmap linked into the
// intrusive recency list (head = most recently accessed, tail = least).
type node struct {
	key   Key
	img   image.Image
	bytes int64 // estimated cost, width*height*4

	prev, next *node
}
