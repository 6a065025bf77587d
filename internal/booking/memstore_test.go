package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store used by the tests. It mirrors the
// transactional contract of the Postgres store: per-slot try-locks for
// non-blocking claims, staged writes applied only on commit, nothing
// persisted when the transaction function returns an error.
type memStore struct {
	mu         sync.Mutex
	patients   map[uuid.UUID]Patient
	clinicians map[uuid.UUID]Clinician
	slots      map[uuid.UUID]Slot
	bookings   map[uuid.UUID]Booking

	slotLocks    map[uuid.UUID]*sync.Mutex
	bookingLocks map[uuid.UUID]*sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		patients:     make(map[uuid.UUID]Patient),
		clinicians:   make(map[uuid.UUID]Clinician),
		slots:        make(map[uuid.UUID]Slot),
		bookings:     make(map[uuid.UUID]Booking),
		slotLocks:    make(map[uuid.UUID]*sync.Mutex),
		bookingLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// Fixture helpers

func (s *memStore) addPatient(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.patients[id] = Patient{ID: id, Name: name}
	return id
}

func (s *memStore) addClinician(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.clinicians[id] = Clinician{ID: id, Name: name}
	return id
}

func (s *memStore) addSlot(clinicianID uuid.UUID, start, end time.Time, status SlotStatus) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.slots[id] = Slot{
		ID:          id,
		ClinicianID: clinicianID,
		StartTime:   start,
		EndTime:     end,
		Status:      status,
	}
	return id
}

func (s *memStore) addBooking(b Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

func (s *memStore) slot(id uuid.UUID) Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[id]
}

func (s *memStore) booking(id uuid.UUID) Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id]
}

// Store implementation

func (s *memStore) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.patients[id]; ok {
		cp := p
		return &cp, nil
	}
	return nil, ErrPatientNotFound
}

func (s *memStore) GetClinicianByID(_ context.Context, id uuid.UUID) (*Clinician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clinicians[id]; ok {
		cp := c
		return &cp, nil
	}
	return nil, ErrClinicianNotFound
}

func (s *memStore) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[id]; ok {
		cp := sl
		return &cp, nil
	}
	return nil, ErrSlotNotFound
}

func (s *memStore) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bookings[id]; ok {
		cp := b
		return &cp, nil
	}
	return nil, ErrBookingNotFound
}

func (s *memStore) GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	b, err := s.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &BookingDetail{Booking: *b}
	if p, err := s.GetPatientByID(ctx, b.PatientID); err == nil {
		detail.Patient = p
	}
	if b.SlotID != nil {
		if sl, err := s.GetSlotByID(ctx, *b.SlotID); err == nil {
			detail.Slot = sl
			if c, err := s.GetClinicianByID(ctx, sl.ClinicianID); err == nil {
				detail.Clinician = c
			}
		}
	}
	return detail, nil
}

func (s *memStore) CreateSlot(_ context.Context, clinicianID uuid.UUID, start, end time.Time) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.slots {
		if existing.ClinicianID == clinicianID && existing.StartTime.Before(end) && existing.EndTime.After(start) {
			return nil, ErrSlotOverlap
		}
	}

	id := uuid.New()
	slot := Slot{
		ID:          id,
		ClinicianID: clinicianID,
		StartTime:   start,
		EndTime:     end,
		Status:      SlotAvailable,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	s.slots[id] = slot
	cp := slot
	return &cp, nil
}

func (s *memStore) ListAvailableSlots(_ context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Slot
	for _, sl := range s.slots {
		if sl.ClinicianID == clinicianID && sl.Status == SlotAvailable &&
			!sl.StartTime.Before(from) && sl.StartTime.Before(to) {
			result = append(result, sl)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

func (s *memStore) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID) ([]BookingDetail, error) {
	s.mu.Lock()
	var ids []uuid.UUID
	for _, b := range s.bookings {
		if b.PatientID == patientID {
			ids = append(ids, b.ID)
		}
	}
	s.mu.Unlock()

	var result []BookingDetail
	for _, id := range ids {
		detail, err := s.GetBookingDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}
	return result, nil
}

func (s *memStore) ListBookingsByClinician(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]BookingDetail, error) {
	s.mu.Lock()
	var ids []uuid.UUID
	for _, b := range s.bookings {
		if b.SlotID == nil {
			continue
		}
		sl, ok := s.slots[*b.SlotID]
		if ok && sl.ClinicianID == clinicianID && !sl.StartTime.Before(from) && sl.StartTime.Before(to) {
			ids = append(ids, b.ID)
		}
	}
	s.mu.Unlock()

	var result []BookingDetail
	for _, id := range ids {
		detail, err := s.GetBookingDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *detail)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Slot.StartTime.Before(result[j].Slot.StartTime)
	})
	return result, nil
}

func (s *memStore) FindExpiredPending(_ context.Context, now time.Time) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Booking
	for _, b := range s.bookings {
		if b.Status == StatusPending && b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		store:    s,
		slots:    make(map[uuid.UUID]Slot),
		bookings: make(map[uuid.UUID]Booking),
	}
	defer tx.releaseLocks()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	tx.apply()
	return nil
}

func (s *memStore) slotLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.slotLocks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.slotLocks[id] = l
	return l
}

func (s *memStore) bookingLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.bookingLocks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.bookingLocks[id] = l
	return l
}

// memTx stages writes and holds row locks until the transaction ends.
type memTx struct {
	store    *memStore
	slots    map[uuid.UUID]Slot
	bookings map[uuid.UUID]Booking
	held     []*sync.Mutex
}

func (t *memTx) releaseLocks() {
	for _, l := range t.held {
		l.Unlock()
	}
	t.held = nil
}

func (t *memTx) apply() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, sl := range t.slots {
		t.store.slots[id] = sl
	}
	for id, b := range t.bookings {
		t.store.bookings[id] = b
	}
}

func (t *memTx) readSlot(id uuid.UUID) (Slot, bool) {
	if sl, ok := t.slots[id]; ok {
		return sl, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	sl, ok := t.store.slots[id]
	return sl, ok
}

func (t *memTx) LockSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	l := t.store.slotLock(id)
	if !l.TryLock() {
		return nil, ErrSlotContended
	}
	t.held = append(t.held, l)

	sl, ok := t.readSlot(id)
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := sl
	return &cp, nil
}

func (t *memTx) MarkSlotBooked(_ context.Context, id uuid.UUID) (bool, error) {
	sl, ok := t.readSlot(id)
	if !ok || sl.Status != SlotAvailable {
		return false, nil
	}
	sl.Status = SlotBooked
	sl.Version++
	sl.UpdatedAt = time.Now()
	t.slots[id] = sl
	return true, nil
}

func (t *memTx) ReleaseSlot(_ context.Context, id uuid.UUID) error {
	sl, ok := t.readSlot(id)
	if !ok || sl.Status == SlotAvailable {
		return nil
	}
	sl.Status = SlotAvailable
	sl.Version++
	sl.UpdatedAt = time.Now()
	t.slots[id] = sl
	return nil
}

func (t *memTx) InsertBooking(_ context.Context, b *Booking) error {
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	t.bookings[b.ID] = *b
	return nil
}

func (t *memTx) LockBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	l := t.store.bookingLock(id)
	l.Lock()
	t.held = append(t.held, l)

	if b, ok := t.bookings[id]; ok {
		cp := b
		return &cp, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if b, ok := t.store.bookings[id]; ok {
		cp := b
		return &cp, nil
	}
	return nil, ErrBookingNotFound
}

func (t *memTx) UpdateBooking(_ context.Context, b *Booking) error {
	b.UpdatedAt = time.Now()
	t.bookings[b.ID] = *b
	return nil
}
