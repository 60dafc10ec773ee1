// Package types holds the value types shared by the ability, form and
// bundle packages: launch intents (Want), component names and the bundle
// metadata returned by the bundle manager.
package types
