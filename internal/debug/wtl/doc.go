// Package wtl implements the client side of the Web Test Launcher debugger
// protocol.
//
// The WTL debugger sits between a test and its WebDriver endpoint and can hold
// any WebDriver command until a front-end lets it through. The front-end talks
// to it over a plain TCP stream carrying whitespace-separated JSON objects:
//
//	-> {"id":3,"command":"set breakpoint","breakpoint":{"id":3,"path":"/url$","methods":["POST"]}}
//	<- {"id":3,"status":"waiting"}
//	-> {"id":4,"command":"continue"}
//	<- {"id":4,"status":"running"}
//	<- {"id":0,"status":"running","request":{"method":"GET","path":"/session/1/title"}}
//	<- {"id":0,"status":"waiting","request":{"method":"POST","path":"/session/1/url"}}
//
// Every operation sends one command and then drains messages until one with a
// status other than "running" arrives. The stream has no framing beyond the
// JSON values themselves; Framer recovers message boundaries from arbitrary
// read chunks and rejects input that can never become valid JSON.
//
// # Usage
//
//	t, err := wtl.Dial(ctx, "localhost", 9999)
//	if err != nil {
//	    return err
//	}
//	c := wtl.NewClient(t, wtl.WithReadDeadline(time.Minute))
//	id, err := c.SetBreakpoint(ctx, wtl.Filter{Path: "/url$"})
//	err = c.Run(ctx)
//	err = c.DeleteBreakpoint(ctx, id)
//	err = c.Stop(ctx)
package wtl
