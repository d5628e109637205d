// Package indicator drives the single RGB status LED.
//
//	dark orange  firmware upgrade in progress
//	green        client mode, network ready
//	blue         access point mode, network ready
//	red          network offline
//
// The LED alternates between two brightness levels once per second so a
// frozen device is distinguishable from a healthy one.
package indicator
