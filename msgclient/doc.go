// Copyright 2019 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package msgclient implements the peer side of a msgchat server.
//
// Here is a quick example.
//
//	c, err := msgclient.Dial(ctx, "127.0.0.1:6789", msgclient.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	c.Start(ctx, msgclient.HandlerFunc(func(ctx context.Context, m msgchat.Message) {
//		log.Printf("received: %s", m)
//	}))
//
//	c.Send("CLIENT - hello")
//	c.Bye()
//
//	<-c.StopD()
//	log.Printf("client stop, error: %v", c.Error())
package msgclient
