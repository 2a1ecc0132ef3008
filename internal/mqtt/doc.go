// Package mqtt publishes routerwatch state to an MQTT broker as a Home
// Assistant device.
//
// On every (re-)connect the publisher sends retained discovery configs
// for its sensors and an "online" birth message to the availability
// topic; a will message flips availability to "offline" on unexpected
// disconnects. Sensor states are refreshed on a fixed interval, and
// each alert is published as JSON to the alert topic as it happens.
//
// Connection management, including reconnects, is handled by Eclipse
// Paho v2's [autopaho] package.
package mqtt
