// Package httpapi exposes the engine's credential operations as JSON over
// HTTP for the reference server.
//
// Routes, relative to the mount point (normally /api/v1/auth):
//
//	POST /register         {identifier, password}          201 user
//	POST /login            {identifier, password}          200 token pair
//	POST /refresh          {refresh_token}                 200 token pair
//	POST /logout           {refresh_token}                 204
//	POST /logout-all       {refresh_token}                 200 {revoked}
//	POST /change-password  {old_password, new_password}    204 (bearer)
//	GET  /me                                               200 identity (bearer)
//
// Errors are {"error": code, "message": text} with the status from StatusFor.
// Handlers hold no state beyond the engine.
package httpapi
