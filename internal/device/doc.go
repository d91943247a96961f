// Package device defines the transport-facing contracts of the sensor link:
// advertisements, the BLE transport adapter, radio probing, disconnect reasons
// and the error taxonomy shared by the connection layer and its adapters.
//
// Concrete adapters live in sub-packages (goble for go-ble, bluez for the
// D-Bus radio probe).
package device
