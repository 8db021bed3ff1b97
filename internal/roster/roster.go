// Package roster keeps the ordered list of participants and the media tracks
// each of them currently exposes.
package roster

import (
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoRoom/internal/domain"
	"github.com/dkeye/VideoRoom/internal/engine"
)

var ErrUnknownParticipant = errors.New("unknown participant")

// Participant is one roster entry. Audio and Video may be nil.
type Participant struct {
	ID    domain.UserID
	Audio engine.Track
	Video engine.Track
}

// Track returns the reference for kind.
func (p Participant) Track(kind domain.MediaKind) engine.Track {
	if kind == domain.MediaAudio {
		return p.Audio
	}
	return p.Video
}

func (p *Participant) set(kind domain.MediaKind, t engine.Track) {
	if kind == domain.MediaAudio {
		p.Audio = t
	} else {
		p.Video = t
	}
}

// Roster is an insertion-ordered set of participants keyed by id. It is safe
// for concurrent use; subscribers are notified after every change, outside
// the lock, in the order changes happened.
type Roster struct {
	mu       sync.Mutex
	order    []domain.UserID
	entries  map[domain.UserID]*Participant
	localID  domain.UserID
	selected domain.UserID

	notifyMu sync.Mutex
	subsMu   sync.RWMutex
	nextSub  int
	subs     map[int]func([]Participant)
}

func New() *Roster {
	return &Roster{
		entries: make(map[domain.UserID]*Participant),
		subs:    make(map[int]func([]Participant)),
	}
}

// Publish records that uid now exposes track for kind, creating the entry if
// needed. The other kind is left untouched.
func (r *Roster) Publish(uid domain.UserID, kind domain.MediaKind, track engine.Track) {
	r.update(func() bool {
		p := r.entryLocked(uid)
		p.set(kind, track)
		return true
	})
	log.Debug().Str("module", "roster").Str("uid", string(uid)).Stringer("kind", kind).Msg("publish")
}

// Unpublish clears only the given kind for uid. The entry stays.
func (r *Roster) Unpublish(uid domain.UserID, kind domain.MediaKind) {
	r.update(func() bool {
		p, ok := r.entries[uid]
		if !ok || p.Track(kind) == nil {
			return false
		}
		p.set(kind, nil)
		return true
	})
}

// Leave removes uid whatever tracks it had.
func (r *Roster) Leave(uid domain.UserID) {
	r.update(func() bool {
		if _, ok := r.entries[uid]; !ok {
			return false
		}
		delete(r.entries, uid)
		for i, id := range r.order {
			if id == uid {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		if r.selected == uid {
			r.selected = ""
			if len(r.order) > 0 {
				r.selected = r.order[0]
			}
		}
		return true
	})
	log.Debug().Str("module", "roster").Str("uid", string(uid)).Msg("leave")
}

// JoinLocal adds the local participant. If uid already has an entry its
// tracks are replaced.
func (r *Roster) JoinLocal(uid domain.UserID, audio, video engine.Track) {
	r.update(func() bool {
		r.localID = uid
		p := r.entryLocked(uid)
		p.Audio = audio
		p.Video = video
		return true
	})
}

// SetLocalVideo replaces the video reference of the local entry only.
func (r *Roster) SetLocalVideo(track engine.Track) error {
	var err error
	r.update(func() bool {
		p, ok := r.entries[r.localID]
		if r.localID == "" || !ok {
			err = ErrUnknownParticipant
			return false
		}
		p.Video = track
		return true
	})
	return err
}

// Clear drops every entry, the local id and the selection.
func (r *Roster) Clear() {
	r.update(func() bool {
		if len(r.order) == 0 && r.localID == "" {
			return false
		}
		r.order = nil
		r.entries = make(map[domain.UserID]*Participant)
		r.localID = ""
		r.selected = ""
		return true
	})
}

// Select makes uid the participant shown in the primary display.
func (r *Roster) Select(uid domain.UserID) error {
	var err error
	r.update(func() bool {
		if _, ok := r.entries[uid]; !ok {
			err = ErrUnknownParticipant
			return false
		}
		if r.selected == uid {
			return false
		}
		r.selected = uid
		return true
	})
	return err
}

func (r *Roster) Selected() (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[r.selected]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

func (r *Roster) Get(uid domain.UserID) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[uid]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Snapshot returns the entries in insertion order.
func (r *Roster) Snapshot() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Roster) LocalID() domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localID
}

// Subscribe registers fn for change notifications and returns the function
// that unregisters it. fn may read the roster but must not change it.
func (r *Roster) Subscribe(fn func([]Participant)) (release func()) {
	r.subsMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subsMu.Lock()
			delete(r.subs, id)
			r.subsMu.Unlock()
		})
	}
}

func (r *Roster) entryLocked(uid domain.UserID) *Participant {
	p, ok := r.entries[uid]
	if !ok {
		p = &Participant{ID: uid}
		r.entries[uid] = p
		r.order = append(r.order, uid)
		if r.selected == "" {
			r.selected = uid
		}
	}
	return p
}

func (r *Roster) snapshotLocked() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out
}

// update applies mutate under the lock and, if it reports a change, hands a
// snapshot to every subscriber.
func (r *Roster) update(mutate func() bool) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	changed := mutate()
	var snap []Participant
	if changed {
		snap = r.snapshotLocked()
	}
	r.mu.Unlock()
	if !changed {
		return
	}

	r.subsMu.RLock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func([]Participant), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id])
	}
	r.subsMu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}
