package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/tazhate/weatherplanner/internal/storage"
)

func TestKeys(t *testing.T) {
	Convey("Storage keys are derived from a fixed prefix", t, func() {
		So(storage.EventsKey("42"), ShouldEqual, "weather_ai_calendar_events_42")
		So(storage.EventsKey(""), ShouldEqual, "weather_ai_calendar_events_anonymous")
		So(storage.ProfileKey("7"), ShouldEqual, "weather_ai_profile_7")
	})
}

func TestSubstrates(t *testing.T) {
	substrates := map[string]func(t *testing.T) storage.KV{
		"memory": func(t *testing.T) storage.KV { return storage.NewMemory() },
		"sqlite": func(t *testing.T) storage.KV {
			kv, err := storage.NewSQLite(filepath.Join(t.TempDir(), "kv.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return kv
		},
	}

	for name, open := range substrates {
		Convey("Given a "+name+" substrate", t, func() {
			ctx := context.Background()
			kv := open(t)
			defer kv.Close()

			Convey("When reading a missing key", func() {
				value, version, err := kv.Get(ctx, "missing")

				Convey("Then it returns no value at version zero", func() {
					So(err, ShouldBeNil)
					So(value, ShouldBeNil)
					So(version, ShouldEqual, 0)
				})
			})

			Convey("When writing a new key", func() {
				v, err := kv.Put(ctx, "k", []byte("one"), 0)
				So(err, ShouldBeNil)
				So(v, ShouldEqual, 1)

				Convey("Then it can be read back with its version", func() {
					value, version, err := kv.Get(ctx, "k")
					So(err, ShouldBeNil)
					So(string(value), ShouldEqual, "one")
					So(version, ShouldEqual, 1)
				})

				Convey("And a writer with the current version succeeds", func() {
					v2, err := kv.Put(ctx, "k", []byte("two"), 1)
					So(err, ShouldBeNil)
					So(v2, ShouldEqual, 2)

					value, _, _ := kv.Get(ctx, "k")
					So(string(value), ShouldEqual, "two")
				})

				Convey("And a stale writer is rejected", func() {
					_, err := kv.Put(ctx, "k", []byte("two"), 1)
					So(err, ShouldBeNil)

					_, err = kv.Put(ctx, "k", []byte("stale"), 1)
					So(err, ShouldEqual, storage.ErrVersionConflict)

					value, version, _ := kv.Get(ctx, "k")
					So(string(value), ShouldEqual, "two")
					So(version, ShouldEqual, 2)
				})

				Convey("And a second create of the same key is rejected", func() {
					_, err := kv.Put(ctx, "k", []byte("again"), 0)
					So(err, ShouldEqual, storage.ErrVersionConflict)
				})
			})

			Convey("When listing keys by prefix", func() {
				_, _ = kv.Put(ctx, storage.EventsKey("a"), []byte("[]"), 0)
				_, _ = kv.Put(ctx, storage.EventsKey("b"), []byte("[]"), 0)
				_, _ = kv.Put(ctx, storage.ProfileKey("a"), []byte("{}"), 0)

				keys, err := kv.Keys(ctx, storage.EventsKeyPrefix)

				Convey("Then only matching keys are returned in order", func() {
					So(err, ShouldBeNil)
					So(keys, ShouldResemble, []string{storage.EventsKey("a"), storage.EventsKey("b")})
				})
			})

			Convey("When deleting a key", func() {
				_, _ = kv.Put(ctx, "gone", []byte("x"), 0)
				So(kv.Delete(ctx, "gone"), ShouldBeNil)

				Convey("Then it reads as missing", func() {
					value, version, err := kv.Get(ctx, "gone")
					So(err, ShouldBeNil)
					So(value, ShouldBeNil)
					So(version, ShouldEqual, 0)
				})
			})
		})
	}
}
