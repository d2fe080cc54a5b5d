// Package source provides the report sources the engine consumes:
// trace file replay, a TCP JSON-lines feed, HTTP polling of a
// dump1090/readsb aircraft.json endpoint, and a NATS subscription.
// Every source yields normalized adsb.Reports and signals exhaustion
// with io.EOF; malformed records surface as drop errors the engine
// counts and skips.
package source
