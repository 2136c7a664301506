package mediagroup

import (
	"strconv"
	"sync"
	"time"
)

// Item is one photo of a Telegram album.
type Item struct {
	ChatID       int64
	UserID       int64
	MediaGroupID string
	Caption      string
	FileID       string
}

// Group is a whole album. Only the first photo is relayed; Count tells the
// handler how many were dropped.
type Group struct {
	ChatID  int64
	UserID  int64
	Caption string
	FileID  string
	Count   int
}

type Options struct {
	Debounce time.Duration
	OnFlush  func(Group)
}

// Aggregator collapses album updates, which Telegram delivers one photo at a
// time, into a single Group after Debounce of silence.
type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	onFlush  func(Group)
	groups   map[string]*pendingGroup
	stopped  bool
}

type pendingGroup struct {
	group Group
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}

	return &Aggregator{
		debounce: debounce,
		onFlush:  opts.OnFlush,
		groups:   make(map[string]*pendingGroup),
	}
}

func (a *Aggregator) Add(item Item) {
	if item.MediaGroupID == "" || item.FileID == "" {
		return
	}

	key := strconv.FormatInt(item.ChatID, 10) + ":" + item.MediaGroupID

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return
	}

	pg, ok := a.groups[key]
	if !ok {
		pg = &pendingGroup{group: Group{
			ChatID:  item.ChatID,
			UserID:  item.UserID,
			Caption: item.Caption,
			FileID:  item.FileID,
		}}
		a.groups[key] = pg
	} else if pg.group.Caption == "" {
		pg.group.Caption = item.Caption
	}
	pg.group.Count++

	if pg.timer != nil {
		pg.timer.Stop()
	}
	pg.timer = time.AfterFunc(a.debounce, func() {
		a.flush(key)
	})
}

// Stop cancels every pending flush. Later Adds are ignored.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	for key, pg := range a.groups {
		if pg.timer != nil {
			pg.timer.Stop()
		}
		delete(a.groups, key)
	}
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	pg, ok := a.groups[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.groups, key)
	group := pg.group
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(group)
	}
}
