package triggers

// StoredStatus is the narrow status vocabulary kept in the stored_status
// column, shared with reminders.
type StoredStatus string

const (
	StoredActive    StoredStatus = "ACTIVE"
	StoredCancelled StoredStatus = "CANCELLED"
	StoredDeleted   StoredStatus = "DELETED"
	StoredFinished  StoredStatus = "FINISHED"
)

// statusTable is the single mapping between the two vocabularies. The fold
// is lossy for PAUSED and PENDING_ACTIVATE, which both store as ACTIVE; the
// full domain status is kept in its own column, so nothing reads the
// narrow value to decide whether a trigger fires.
var statusTable = []struct {
	domain Status
	stored StoredStatus
	// canonical marks the domain status a stored value reads back as.
	canonical bool
}{
	{StatusActive, StoredActive, true},
	{StatusPaused, StoredActive, false},
	{StatusPendingActivate, StoredActive, false},
	{StatusCanceled, StoredCancelled, true},
	{StatusExpired, StoredDeleted, true},
	{StatusFinished, StoredFinished, true},
}

var (
	domainToStored = map[Status]StoredStatus{}
	storedToDomain = map[StoredStatus]Status{}
)

func init() {
	for _, row := range statusTable {
		domainToStored[row.domain] = row.stored
		if row.canonical {
			storedToDomain[row.stored] = row.domain
		}
	}
}

// ToStored folds a domain status into the stored vocabulary. The boolean is
// false for statuses outside the domain enum.
func ToStored(s Status) (StoredStatus, bool) {
	st, ok := domainToStored[s]
	return st, ok
}

// FromStored reads a stored status back. Unknown values read as
// PENDING_ACTIVATE so that they never fire.
func FromStored(s StoredStatus) Status {
	if d, ok := storedToDomain[s]; ok {
		return d
	}
	return StatusPendingActivate
}
