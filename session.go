package sentinel

import "context"

// CreateSession registers a new session for userID and returns a copy of
// it. Sessions expire after the configured idle timeout; any successful
// ValidateSession refreshes the timer.
func (m *Manager) CreateSession(userID, networkAddress string, permissions []string) Session {
	now := m.now()
	s := &Session{
		ID:             m.newID(),
		UserID:         userID,
		NetworkAddress: networkAddress,
		Permissions:    append([]string(nil), permissions...),
		CreatedAt:      now,
		LastActivity:   now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.cfg.Logger.Debug("session created", "sessionId", s.ID, "userId", userID)
	if m.metrics != nil {
		m.metrics.SessionsCreated.Add(context.Background(), 1)
	}
	return *s
}

// ValidateSession looks up a session by ID. A live session has its
// LastActivity refreshed and a copy returned; an expired session is
// removed and reported as absent.
func (m *Manager) ValidateSession(id string) (Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return Session{}, false
	}
	now := m.now()
	if now.Sub(s.LastActivity) > m.cfg.Session.Timeout {
		delete(m.sessions, id)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.SessionsExpired.Add(context.Background(), 1)
		}
		return Session{}, false
	}
	s.LastActivity = now
	copied := *s
	m.mu.Unlock()
	return copied, true
}

// DestroySession removes a session. Reports whether it existed.
func (m *Manager) DestroySession(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		m.cfg.Logger.Debug("session destroyed", "sessionId", id)
		if m.metrics != nil {
			m.metrics.SessionsDestroyed.Add(context.Background(), 1)
		}
	}
	return ok
}

// ActiveSessions returns the number of tracked sessions, including any
// expired sessions not yet swept.
func (m *Manager) ActiveSessions() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sessions))
}
