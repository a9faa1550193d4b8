// Package director is the transport to a Control4 Director (the hub
// controller) used by the Control4 bridge.
//
// It provides the three collaborators the bridge core consumes:
//
//   - Snapshot fetch: Client.ItemVariables folds
//     GET /api/v1/items/{id}/variables into a name → value map.
//   - Command channel: Client.SendCommand posts a named command with
//     tParams to /api/v1/items/{id}/commands. Thermostat and Fan wrap it
//     with the vendor command vocabulary.
//   - Push stream: Stream keeps a WebSocket to /api/v1/items/datatoui
//     open, delivers events serially to per-item handlers, signals a
//     disconnect to every handler when the socket drops and reconnects
//     with exponential backoff.
//
// Credentials are an oauth2.TokenSource. NewTokenSource builds either a
// static bearer token or one re-read from a file (kept fresh by an
// external login helper), cached with oauth2.ReuseTokenSource. Every
// request and every dial asks the source, so a refreshed token is picked
// up without rebuilding clients.
//
// Directors serve a self-signed certificate; InsecureSkipVerify exists
// for that case and should be paired with a network you control.
package director
