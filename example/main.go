package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/gregbrowndev/eventsourcing"
	"github.com/gregbrowndev/eventsourcing/core"
	"github.com/gregbrowndev/eventsourcing/factory"
)

// World is a minimal aggregate tracking what happened on it
type World struct {
	eventsourcing.AggregateRoot
	Name    string
	History []string
}

type WorldCreated struct {
	Name string
}

type SomethingHappened struct {
	What string
}

// CreateWorld constructor for the World
func CreateWorld(name string) *World {
	world := World{}
	world.TrackChange(&world, &WorldCreated{Name: name})
	return &world
}

// MakeItSo records that something happened in the world
func (w *World) MakeItSo(what string) {
	w.TrackChange(w, &SomethingHappened{What: what})
}

// Transition the world state dependent on the events
func (w *World) Transition(event eventsourcing.Event) {
	switch e := event.Data().(type) {
	case *WorldCreated:
		w.Name = e.Name
	case *SomethingHappened:
		w.History = append(w.History, e.What)
	}
}

// Register the events the world is build from
func (w *World) Register(r eventsourcing.RegisterFunc) {
	r(&WorldCreated{}, &SomethingHappened{})
}

func main() {
	ctx := context.Background()

	// configuration comes from the environment, INFRASTRUCTURE_FACTORY
	// selects the backend and defaults to the in-memory recorder
	app, closer, err := factory.New(ctx, factory.FromEnv())
	if err != nil {
		logrus.Fatal(err)
	}
	defer closer()
	app.Register(&World{})

	world := CreateWorld("Earth")
	world.MakeItSo("dinosaurs")
	world.MakeItSo("trucks")
	world.MakeItSo("internet")
	if err := app.Save(ctx, world); err != nil {
		logrus.Fatal(err)
	}

	loaded := World{}
	if err := app.Repository().Get(ctx, world.ID(), &loaded); err != nil {
		logrus.Fatal(err)
	}
	fmt.Printf("%s at version %d: %v\n", loaded.Name, loaded.Version(), loaded.History)

	err = app.Reader().Read(ctx, 1, func(n core.Notification) error {
		fmt.Printf("notification %d: %s version %d\n", n.ID, n.Topic, n.Version)
		return nil
	})
	if err != nil {
		logrus.Fatal(err)
	}
}
