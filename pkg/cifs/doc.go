// Package cifs is the entry point of the CIFS client core.
//
// A Registry maps (endpoint, credentials, share) to a reference-counted
// Tree. Connections are shared by every session on the same endpoint and
// sessions by every tree bound with the same credentials:
//
//	reg := cifs.NewRegistry(cifs.Options{RequestTimeout: 10 * time.Second})
//	defer reg.Close(ctx)
//
//	tree, err := reg.Bind(ctx, cifs.Endpoint{Address: "fileserver:445"},
//	    cifs.Credentials{Username: "alice", Password: "secret"}, "data")
//	if err != nil {
//	    return err
//	}
//	defer reg.Unbind(ctx, tree)
//
//	resp, err := tree.SendAndWait(ctx, &cifs.Request{Command: cmd, Params: p, Data: d})
//
// A lost connection fails in-flight requests with ErrConnectionLost. The next
// SendAndWait reconnects, re-authenticates every session and reconnects every
// tree before sending.
package cifs
