package output

import (
	"strconv"

	"github.com/marmos91/cifscore/pkg/cifs"
)

// Connections renders a registry snapshot with one row per bound tree.
// Sessions without trees get a row with an empty share.
type Connections []cifs.ConnectionStatus

func (Connections) Headers() []string {
	return []string{"Server", "State", "Signing", "User", "UID", "Auth", "Share", "TID", "Type", "Refs"}
}

func (c Connections) Rows() [][]string {
	var rows [][]string
	for _, conn := range c {
		prefix := []string{conn.Server, conn.State, strconv.FormatBool(conn.Signing)}
		if len(conn.Sessions) == 0 {
			rows = append(rows, append(prefix, "", "", "", "", "", "", ""))
			continue
		}
		for _, s := range conn.Sessions {
			user := []string{s.User, strconv.Itoa(int(s.UID)), s.Method}
			if len(s.Trees) == 0 {
				rows = append(rows, concat(prefix, user, []string{"", "", "", ""}))
				continue
			}
			for _, t := range s.Trees {
				rows = append(rows, concat(prefix, user, []string{
					t.Share, strconv.Itoa(int(t.TID)), t.Service, strconv.Itoa(t.Refs),
				}))
			}
		}
	}
	return rows
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
