package model

import "time"

// Shipment は出荷記録を表す。shipment_numberが一意キー。
type Shipment struct {
	ShipmentNumber       string
	ContainerNumber      string
	RouteFrom            string
	RouteTo              string
	GoodsType            string
	Device               string
	ExpectedDeliveryDate time.Time
	PONumber             string
	NDCNumber            string
	SerialNumberGoods    string
	DeliveryNumber       string
	BatchID              string
	ShipmentPriority     string
	ShipmentHealth       string
	ShipmentDescription  string
	CreatedBy            string
	CreatedAt            time.Time
}

// DeviceReading はIoTデバイスから送られたテレメトリの1件を表す。
// 値はデバイスが送った表現のまま文字列で保持する。
type DeviceReading struct {
	ID                     string
	DeviceID               string
	BatteryLevel           string
	FirstSensorTemperature string
	RouteFrom              string
	RouteTo                string
	Timestamp              string
	CreatedBy              string
	CreatedAt              time.Time
}
