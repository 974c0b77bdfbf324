// Package debug manages interactive WTL debugger sessions.
//
// A Session owns one wtl.Client and adds what a front-end needs around it:
//
//   - an identity (a random session id) used to tag logs and events
//   - observers that see every drained message and every finished command
//   - a local registry of the breakpoints installed through the session
//   - breakpoint presets stored as YAML
//
// # Usage
//
//	s, err := debug.Dial(ctx, debug.Config{Host: "localhost", Port: 9999})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	s.AddObserver(debug.Handlers{
//	    OnMessage: func(ev debug.MessageEvent) { fmt.Println(ev.Message) },
//	})
//	id, err := s.SetBreakpoint(ctx, wtl.Filter{Path: "/url$"})
//	err = s.Run(ctx)
package debug
