// Package transport posts WSMan SOAP envelopes over HTTP or HTTPS.
//
// 401 and 403 map to sentinel errors. Other error statuses keep their body
// so the caller can parse the SOAP fault inside.
package transport
