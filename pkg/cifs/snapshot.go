package cifs

import (
	"cmp"
	"slices"
)

// ConnectionStatus describes one connection in a Snapshot.
type ConnectionStatus struct {
	Server   string          `json:"server" yaml:"server"`
	ID       string          `json:"id" yaml:"id"`
	State    string          `json:"state" yaml:"state"`
	Dialect  string          `json:"dialect" yaml:"dialect"`
	Signing  bool            `json:"signing" yaml:"signing"`
	Pending  int             `json:"pending" yaml:"pending"`
	Sessions []SessionStatus `json:"sessions" yaml:"sessions"`
}

// SessionStatus describes one session in a Snapshot.
type SessionStatus struct {
	User   string       `json:"user" yaml:"user"`
	UID    uint16       `json:"uid" yaml:"uid"`
	Method string       `json:"method" yaml:"method"`
	Auth   string       `json:"auth" yaml:"auth"`
	Guest  bool         `json:"guest" yaml:"guest"`
	Trees  []TreeStatus `json:"trees" yaml:"trees"`
}

// TreeStatus describes one tree in a Snapshot.
type TreeStatus struct {
	Share    string `json:"share" yaml:"share"`
	TID      uint16 `json:"tid" yaml:"tid"`
	Service  string `json:"service" yaml:"service"`
	NativeFS string `json:"native_fs" yaml:"native_fs"`
	Refs     int    `json:"refs" yaml:"refs"`
}

// Snapshot returns a point-in-time view of the registry, sorted by server,
// user and share.
func (r *Registry) Snapshot() []ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ConnectionStatus, 0, len(r.conns))
	for _, c := range r.conns {
		cs := ConnectionStatus{
			Server:  c.addr,
			ID:      c.conn.ID(),
			State:   c.conn.State().String(),
			Signing: c.conn.Signer().Active(),
			Pending: c.conn.Pending(),
		}
		if c.neg != nil {
			cs.Dialect = c.neg.Dialect
		}
		for _, s := range c.sessions {
			ss := SessionStatus{
				User:   s.key,
				UID:    s.sess.UID(),
				Method: s.sess.Method(),
				Auth:   s.sess.AuthState().String(),
				Guest:  s.sess.Guest(),
			}
			for _, t := range s.trees {
				ts := TreeStatus{Share: t.path, Refs: t.refs}
				if info := t.current(); info != nil {
					ts.TID = info.TID
					ts.Service = info.Service
					ts.NativeFS = info.NativeFS
				}
				ss.Trees = append(ss.Trees, ts)
			}
			slices.SortFunc(ss.Trees, func(a, b TreeStatus) int { return cmp.Compare(a.Share, b.Share) })
			cs.Sessions = append(cs.Sessions, ss)
		}
		slices.SortFunc(cs.Sessions, func(a, b SessionStatus) int { return cmp.Compare(a.User, b.User) })
		out = append(out, cs)
	}
	slices.SortFunc(out, func(a, b ConnectionStatus) int { return cmp.Compare(a.Server, b.Server) })
	return out
}
