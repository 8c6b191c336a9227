package memory

import (
	"context"
	"sync"
	"time"

	"simulacro-engine/internal/domain"
)

// Directory is an in-memory roster of teachers and course memberships.
type Directory struct {
	mu       sync.RWMutex
	teachers map[string]bool
	courses  map[domain.CourseKey]map[string]bool
}

func NewDirectory() *Directory {
	return &Directory{
		teachers: make(map[string]bool),
		courses:  make(map[domain.CourseKey]map[string]bool),
	}
}

// AddTeacher grants the teacher role.
func (d *Directory) AddTeacher(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teachers[userID] = true
}

// AddCourse registers a course with its enrolled students.
func (d *Directory) AddCourse(course domain.CourseKey, studentIDs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.courses[course]
	if !ok {
		members = make(map[string]bool)
		d.courses[course] = members
	}
	for _, id := range studentIDs {
		members[id] = true
	}
}

func (d *Directory) IsTeacher(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.teachers[userID], nil
}

func (d *Directory) CourseExists(_ context.Context, course domain.CourseKey) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.courses[course]
	return ok, nil
}

func (d *Directory) InCourse(_ context.Context, studentID string, course domain.CourseKey) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.courses[course][studentID], nil
}

// SweepLock is a process-local app.Locker for single-instance deployments.
type SweepLock struct {
	mu      sync.Mutex
	held    bool
	gen     int
	expires time.Time
	clock   func() time.Time
}

func NewSweepLock() *SweepLock {
	return &SweepLock{clock: time.Now}
}

func (l *SweepLock) TryLock(_ context.Context, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if l.held && now.Before(l.expires) {
		return nil, false, nil
	}
	l.held = true
	l.gen++
	l.expires = now.Add(ttl)
	gen := l.gen
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.gen == gen {
			l.held = false
		}
	}, true, nil
}
