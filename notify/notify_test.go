package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestFromPush(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	cases := []struct {
		payload []byte
		body    string
	}{
		{nil, "New notification"},
		{[]byte{}, "New notification"},
		{[]byte("Download finished"), "Download finished"},
	}
	for _, c := range cases {
		n := FromPush(c.payload, Options{}, now)
		expected := Notification{
			Title:   "AI Media Assistant",
			Body:    c.body,
			Icon:    "/static/img/dfd.png",
			Badge:   "/static/img/dfd.png",
			Vibrate: []int{200, 100, 200},
			Data:    Data{DateOfArrival: 1700000000000, PrimaryKey: 1},
		}
		if diff := cmp.Diff(expected, n, cmpopts.IgnoreFields(Notification{}, "ID")); diff != "" {
			t.Fatalf("Notification mismatch (-want +got):\n%s", diff)
		}
		if n.ID == "" {
			t.Fatalf("Notification has no id")
		}
	}
}

func TestFromPushCustomTitle(t *testing.T) {
	n := FromPush([]byte("x"), Options{Title: "Downloader", Vibrate: []int{100}}, time.Now())
	if n.Title != "Downloader" {
		t.Fatalf("Title is %s", n.Title)
	}
	if diff := cmp.Diff([]int{100}, n.Vibrate); diff != "" {
		t.Fatalf("Vibrate mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryShowClose(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)
	n := FromPush([]byte("hello"), Options{}, time.Now())
	r.Show(ctx, n)
	if list := r.List(); len(list) != 1 || list[0].ID != n.ID {
		t.Fatalf("List is %+v", list)
	}
	closed, err := r.Close(ctx, n.ID)
	if err != nil || closed.Body != "hello" {
		t.Fatalf("Close: %+v %v", closed, err)
	}
	if _, err := r.Close(ctx, n.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Second close returned %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("Notification still listed")
	}
}

func TestRegistryOpenWindow(t *testing.T) {
	r := NewRegistry(nil)
	r.OpenWindow(context.Background(), "/")
	if diff := cmp.Diff([]string{"/"}, r.Opened()); diff != "" {
		t.Fatalf("Opened mismatch (-want +got):\n%s", diff)
	}
}
