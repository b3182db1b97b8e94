package gateway

import "sync"

// ConnectionRecord maps one live socket to the identity and tenant it serves.
type ConnectionRecord struct {
	ConnectionID string
	CognitoSub   string
	RealUserID   string
	TenantID     string
}

type memberKey struct {
	tenantID string
	userID   string
}

// connectionTable is the process-local index of live sockets plus a count of
// joined connections per tenant member.
type connectionTable struct {
	mu      sync.Mutex
	records map[string]*ConnectionRecord
	live    map[memberKey]int
}

func newConnectionTable() *connectionTable {
	return &connectionTable{
		records: make(map[string]*ConnectionRecord),
		live:    make(map[memberKey]int),
	}
}

func (t *connectionTable) add(rec ConnectionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := rec
	t.records[rec.ConnectionID] = &r
}

func (t *connectionTable) get(connectionID string) (ConnectionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[connectionID]
	if !ok {
		return ConnectionRecord{}, false
	}
	return *r, true
}

// join records tenantID on the connection and reports whether this is the
// member's first joined connection.
func (t *connectionTable) join(connectionID, tenantID string) (first bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, exists := t.records[connectionID]
	if !exists {
		return false, false
	}
	r.TenantID = tenantID
	key := memberKey{tenantID: tenantID, userID: r.RealUserID}
	t.live[key]++
	return t.live[key] == 1, true
}

// leave clears the connection's tenant and reports whether it was the
// member's last joined connection.
func (t *connectionTable) leave(connectionID string) (tenantID string, last bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, exists := t.records[connectionID]
	if !exists || r.TenantID == "" {
		return "", false, false
	}
	tenantID = r.TenantID
	r.TenantID = ""
	key := memberKey{tenantID: tenantID, userID: r.RealUserID}
	t.live[key]--
	if t.live[key] <= 0 {
		delete(t.live, key)
		return tenantID, true, true
	}
	return tenantID, false, true
}

func (t *connectionTable) remove(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, connectionID)
}

func (t *connectionTable) liveConnections(tenantID, userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live[memberKey{tenantID: tenantID, userID: userID}]
}

func (t *connectionTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
