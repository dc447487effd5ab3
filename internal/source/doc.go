// Package source fetches disruption notices from upstream transit sites.
//
// Each upstream is a Fetcher. Fetchers return errors; Safe turns them into
// the empty result the pass runner expects.
package source
