// Package dashboard serves the device's local web interface.
//
// # Endpoints
//
//	GET  /             static status page (embedded assets)
//	GET  /api/status   JSON snapshot of the shared status signals
//	GET  /events       server-sent events: "message_changed" with a status
//	                   snapshot on connect and after every change, and a
//	                   keep-alive comment every 10 seconds otherwise
//	GET  /ws           WebSocket echo, subprotocol "echo"
//	POST /api/wifi     store network credentials and verify the ssid
//	POST /api/mqtt     store messaging credentials and verify the broker
//	POST /api/ota      stream a firmware image into the inactive slot
//
// Settings take effect on the next boot; the running supervisor keeps the
// mode and credentials it started with.
//
// # Usage Example
//
//	srv := dashboard.New(dashboard.Config{
//	    Addr:   ":8080",
//	    Status: st,
//	    Store:  store,
//	})
//	if err := srv.Serve(ctx); err != nil {
//	    logging.Error("dashboard stopped", zap.Error(err))
//	}
package dashboard
