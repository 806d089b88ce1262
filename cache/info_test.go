package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/greut/iiifcache/operation"
	"github.com/greut/iiifcache/processor"
)

func TestInfoCache(t *testing.T) {
	c := NewInfoCache(2)

	a := processor.Info{Width: 300, Height: 200, Format: operation.JPG}
	b := processor.Info{Width: 10, Height: 20, Format: operation.PNG}

	c.Put("a", a)
	c.Put("b", b)

	if got, ok := c.Get("a"); !ok || got != a {
		t.Errorf("a: got %#v, %v", got, ok)
	}

	// b is now the least recently used.
	c.Put("c", a)
	if _, ok := c.Get("b"); ok {
		t.Errorf("b should have been evicted")
	}
	if c.Len() != 2 {
		t.Errorf("len: got %v want 2", c.Len())
	}

	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Errorf("a should have been removed")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len: got %v want 0", c.Len())
	}
}

func TestInfoCacheConcurrency(t *testing.T) {
	c := NewInfoCache(16)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := operation.Identifier(fmt.Sprintf("%d-%d", i, j%20))
				c.Put(id, processor.Info{Width: j})
				c.Get(id)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() > 16 {
		t.Errorf("len: got %v, bounded by 16", c.Len())
	}
}
