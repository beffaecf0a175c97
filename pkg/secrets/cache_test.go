package secrets

import (
	"sync"
	"testing"
	"time"
)

type relayCreds struct {
	APIKey    string
	SignerKey string
}

func TestCache_PutAndGet(t *testing.T) {
	cache := NewCache[relayCreds](2 * time.Second)
	key := "client1|relay"

	if _, ok := cache.Get(key); ok {
		t.Fatal("expected miss on empty cache")
	}

	cache.Put(key, relayCreds{APIKey: "abc123"})

	got, ok := cache.Get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.APIKey != "abc123" {
		t.Errorf("expected api key abc123, got %s", got.APIKey)
	}
}

func TestCache_Expiration(t *testing.T) {
	cache := NewCache[relayCreds](50 * time.Millisecond)
	cache.Put("k", relayCreds{APIKey: "x"})

	time.Sleep(80 * time.Millisecond)

	if _, ok := cache.Get("k"); ok {
		t.Fatal("expected expired cache entry")
	}
	if cache.Len() != 0 {
		t.Errorf("expected expired entry to be evicted on read, len=%d", cache.Len())
	}
}

func TestCache_Bust(t *testing.T) {
	cache := NewCache[relayCreds](time.Minute)
	cache.Put("k", relayCreds{APIKey: "x"})
	cache.Bust("k")

	if _, ok := cache.Get("k"); ok {
		t.Fatal("expected miss after bust")
	}
}

func TestCache_OnAccess(t *testing.T) {
	cache := NewCache[relayCreds](time.Minute)
	var hits, misses int
	cache.OnAccess(func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	})

	cache.Get("k")
	cache.Put("k", relayCreds{})
	cache.Get("k")
	cache.Get("k")

	if hits != 2 || misses != 1 {
		t.Errorf("expected 2 hits / 1 miss, got %d / %d", hits, misses)
	}
}

func TestCache_Cleaner(t *testing.T) {
	cache := NewCache[relayCreds](10 * time.Millisecond)
	cache.Put("a", relayCreds{})
	cache.Put("b", relayCreds{})

	stop := make(chan struct{})
	go cache.StartCleaner(5*time.Millisecond, stop)
	defer close(stop)

	deadline := time.Now().Add(500 * time.Millisecond)
	for cache.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected cleaner to evict all entries, len=%d", cache.Len())
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache[relayCreds](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Put("k", relayCreds{APIKey: "v"})
			cache.Get("k")
		}(i)
	}
	wg.Wait()

	if _, ok := cache.Get("k"); !ok {
		t.Fatal("expected value after concurrent writes")
	}
}
