package gateway

import (
	"testing"
	"time"
)

func TestPositionCacheUpdateAndGet(t *testing.T) {
	c := NewPositionCache()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if ok := c.Update("KD9XYZ-1", 45.0, -93.0, now); !ok {
		t.Fatal("Update returned false for valid coordinates")
	}

	pos, ok := c.Get("KD9XYZ-1")
	if !ok {
		t.Fatal("Get returned false after Update")
	}

	if pos.Lat != 45.0 || pos.Lon != -93.0 {
		t.Fatalf("got lat/lon %v/%v", pos.Lat, pos.Lon)
	}

	if pos.SeenCount != 1 {
		t.Fatalf("SeenCount = %d, want 1", pos.SeenCount)
	}
}

func TestPositionCacheRejectsOutOfRange(t *testing.T) {
	c := NewPositionCache()
	now := time.Now()

	cases := [][2]float64{
		{91, 0},
		{-91, 0},
		{0, 181},
		{0, -181},
	}

	for _, pair := range cases {
		if ok := c.Update("N0CALL", pair[0], pair[1], now); ok {
			t.Errorf("Update(%v, %v) should have been rejected", pair[0], pair[1])
		}
	}

	if _, ok := c.Get("N0CALL"); ok {
		t.Fatal("rejected update should not have created a cache entry")
	}
}

func TestPositionCacheSeenCountIncrements(t *testing.T) {
	c := NewPositionCache()
	now := time.Now()

	c.Update("W1AW", 41.7, -72.7, now)
	c.Update("W1AW", 41.71, -72.71, now.Add(time.Second))

	pos, _ := c.Get("W1AW")
	if pos.SeenCount != 2 {
		t.Fatalf("SeenCount = %d, want 2", pos.SeenCount)
	}
}

func TestPositionCacheAge(t *testing.T) {
	c := NewPositionCache()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c.Update("KD9XYZ-1", 45.0, -93.0, base)

	age, ok := c.Age("KD9XYZ-1", base.Add(30*time.Second))
	if !ok {
		t.Fatal("Age returned false for known origin")
	}

	if age != 30*time.Second {
		t.Fatalf("age = %v, want 30s", age)
	}

	if _, ok := c.Age("UNKNOWN", base); ok {
		t.Fatal("Age should return false for unknown origin")
	}
}

func TestPositionCacheLen(t *testing.T) {
	c := NewPositionCache()
	now := time.Now()

	c.Update("A", 1, 1, now)
	c.Update("B", 2, 2, now)
	c.Update("A", 1.1, 1.1, now)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}
