// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package msgchat provides a one-peer-at-a-time text message server.
//
// The server listens on one endpoint and serves a single connection at a
// time. While a session is active it concurrently receives messages from the
// peer, echoes each of them back tagged with a local prefix, and sends the
// text submitted locally. The session ends when the peer sends the sentinel
// ("CLIENT - END"), disconnects, or the server is told to stop; the server
// then goes back to listening for the next peer.
//
// The transport layer is defined by the Conn interface, there are two
// implementations:
//
//	NetconnMRW over net.Conn, length-prefixed or newline-delimited text
//	WebsocketMRW over websocket.Conn, one text message per message
//
// Session wraps a Conn with serialized sends and orderly teardown. The
// presentation layer is a Collaborator: it is notified of every message and
// of typing being enabled or disabled, and submits local text with
// Server.Submit.
//
// Here is a quick example.
//
//	srv := msgchat.NewServer(msgchat.Options{
//		Collaborator: msgchat.CollaboratorFuncs{
//			Message: func(text string) { log.Print(text) },
//		},
//	})
//	defer srv.Close()
//
//	if err := srv.Start(msgchat.DefaultPort, msgchat.DefaultBacklog); err != nil {
//		log.Fatal(err)
//	}
//
//	go func() {
//		scanner := bufio.NewScanner(os.Stdin)
//		for scanner.Scan() {
//			srv.Submit(ctx, scanner.Text())
//		}
//	}()
//
//	srv.Serve(ctx)
package msgchat
