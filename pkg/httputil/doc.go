// Package httputil provides shared request/response plumbing for the HTTP
// surface.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteNoContent(w)
//
// Error responses always carry a JSON body of the form {"error": "..."}:
//
//	httputil.WriteBadRequest(w, "email is required")
//	httputil.WriteUnauthorized(w, message)
//	httputil.WriteForbidden(w, message)
//
// # Request Parsing
//
//	var req LoginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//
// # Middleware
//
//	router.Use(httputil.RecoveryMiddleware)
//	router.Use(httputil.MaxBytesMiddleware(1 << 20))
//
// Authentication and authorization middleware live in pkg/middleware; this
// package stays below them and knows nothing about tokens or principals.
package httputil
