// Command lostfound is the operator CLI for the lost-and-found locker
// daemon. It manages the daemon process and drives every API operation:
// identities, reports, claims, actuator channels, and the camera.
package main
