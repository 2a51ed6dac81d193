/*
Package api is the controller's REST surface.

Every response is wrapped in one envelope: {"code": 0, "data": ...} on
success, {"code": -1, "message": ...} on failure, with the HTTP status
derived from the error kind (errdefs.HTTPStatus). Handlers hold no state
of their own; each one decodes, calls the manager, and encodes, so
anything worth testing lives behind the manager API.

Authentication is a shared API key, accepted as a header, query
parameter, or cookie under the configured name. Only /metrics sits
outside the check, so Prometheus can scrape without a key.
*/
package api
