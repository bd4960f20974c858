package services

import "github.com/waveflow/waveflow/pkg/activity"

// Set bundles the four owning services for one process.
type Set struct {
	Inventory *Inventory
	Orders    *Orders
	Warehouse *Warehouse
	Shipping  *Shipping
}

// NewSet creates all four services, empty.
func NewSet() *Set {
	return &Set{
		Inventory: NewInventory(),
		Orders:    NewOrders(),
		Warehouse: NewWarehouse(),
		Shipping:  NewShipping(),
	}
}

// Register wires every service's handlers onto its queue.
func (s *Set) Register(x *activity.Executor) error {
	if err := s.Inventory.Register(x); err != nil {
		return err
	}
	if err := s.Orders.Register(x); err != nil {
		return err
	}
	if err := s.Warehouse.Register(x); err != nil {
		return err
	}
	return s.Shipping.Register(x)
}
